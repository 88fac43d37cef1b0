// Command loadtest drives a running dev chat server with N concurrent
// clients pairing off and exchanging messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bamboo-rat/adminchat/internal/auth"
	"github.com/Bamboo-rat/adminchat/internal/config"
	"github.com/Bamboo-rat/adminchat/internal/model"
	"github.com/Bamboo-rat/adminchat/internal/session"
	"github.com/Bamboo-rat/adminchat/internal/transport"
)

func main() {
	cfg := config.Load()

	var (
		baseURL  = flag.String("url", cfg.ServerURL, "dev server base URL")
		secret   = flag.String("secret", cfg.JWTSecret, "JWT secret the server was started with")
		pairs    = flag.Int("pairs", 5, "number of client pairs")
		messages = flag.Int("messages", 10, "messages per client")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("-secret is required (flag or JWT_SECRET)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var sent, failed atomic.Int64
	var wg sync.WaitGroup

	for p := 0; p < *pairs; p++ {
		a := fmt.Sprintf("load-a-%d", p)
		b := fmt.Sprintf("load-b-%d", p)

		wg.Add(2)
		go runClient(ctx, &wg, cfg, *baseURL, *secret, a, b, *messages, &sent, &failed)
		go runClient(ctx, &wg, cfg, *baseURL, *secret, b, a, *messages, &sent, &failed)
	}

	wg.Wait()
	log.Printf("done: %d sent, %d failed", sent.Load(), failed.Load())
}

func runClient(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, baseURL, secret, userID, peerID string, messages int, sent, failed *atomic.Int64) {
	defer wg.Done()

	token, err := auth.MakeToken(userID, secret, time.Hour)
	if err != nil {
		log.Printf("[%s] token: %v", userID, err)
		failed.Add(int64(messages))
		return
	}

	adapter := transport.New(transport.Options{
		BaseURL:     baseURL,
		Token:       token,
		DialTimeout: cfg.ConnectTimeout,
	})
	ctrl := session.New(model.UserSnapshot{ID: userID, Name: userID}, adapter, session.Config{
		ReadReceiptDelay: cfg.ReadReceiptDelay,
		TypingExpiry:     cfg.TypingExpiry,
		HistoryPageSize:  cfg.HistoryPageSize,
	}, nil)

	if err := ctrl.Mount(ctx); err != nil {
		log.Printf("[%s] mount: %v", userID, err)
	}
	defer ctrl.Unmount()

	if err := ctrl.SelectConversation(ctx, peerID); err != nil {
		log.Printf("[%s] select: %v", userID, err)
	}

	for i := 0; i < messages; i++ {
		if err := ctrl.Send(ctx, fmt.Sprintf("message %d from %s", i, userID)); err != nil {
			failed.Add(1)
			continue
		}
		sent.Add(1)
		time.Sleep(200 * time.Millisecond)
	}

	// Let straggler pushes land before the snapshot read.
	time.Sleep(time.Second)

	snap := ctrl.Snapshot()
	log.Printf("[%s] state=%s timeline=%d conversations=%d",
		userID, snap.ConnectionState, len(snap.ActiveTimeline), len(snap.Conversations))
}
