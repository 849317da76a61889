// Command peer is a headless native call peer: it joins a chat's call
// channel over Redis, rings on incoming offers and can dial out, capturing
// real audio/video through the host's devices.
//
// Commands on stdin: call, accept, reject, hangup, quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Mayank77maruti/Meu-ChaT/config"
	"github.com/Mayank77maruti/Meu-ChaT/internal/call"
	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/redis"
	sig "github.com/Mayank77maruti/Meu-ChaT/internal/signal"
)

func main() {
	var (
		userID   = flag.String("user", "", "local participant id (required)")
		chatID   = flag.String("chat", "", "chat id whose call channel to join (required)")
		remoteID = flag.String("remote", "", "remote participant id, required for dialing")
		callType = flag.String("type", "video", "call type when dialing: audio or video")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *userID == "" || *chatID == "" {
		flag.Usage()
		os.Exit(2)
	}
	ct := models.CallType(*callType)
	if ct != models.CallTypeAudio && ct != models.CallTypeVideo {
		log.Fatal().Str("type", *callType).Msg("call type must be audio or video")
	}

	cfg := config.Load()
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redis.Close()

	acquirer, err := call.NewDeviceAcquirer(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init media devices")
	}

	manager := call.NewManager(call.ManagerOptions{
		SelfID:      *userID,
		Channel:     sig.NewRedisChannel(redis.GetClient()),
		Acquirer:    acquirer,
		NewPeer:     call.NewPionFactory(cfg.Call, acquirer, log.Logger),
		RingTimeout: cfg.Call.RingTimeout,
		EndGrace:    cfg.Call.EndGrace,
		Logger:      log.Logger,
	})
	defer manager.Close()

	// ring holds the pending incoming call until accept/reject resolves it.
	var mu sync.Mutex
	var ring *call.IncomingCall

	manager.OnIncoming(func(ic *call.IncomingCall) {
		mu.Lock()
		ring = ic
		mu.Unlock()
		fmt.Printf("Incoming %s call from %s. Type 'accept' or 'reject'.\n", ic.CallType, ic.From)
	})

	ctx := context.Background()
	if err := manager.Watch(ctx, *chatID); err != nil {
		log.Fatal().Err(err).Msg("Failed to watch chat call channel")
	}
	fmt.Printf("Watching chat %s as %s. Commands: call, accept, reject, hangup, quit.\n", *chatID, *userID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "call":
			if *remoteID == "" {
				fmt.Println("No -remote participant configured.")
				continue
			}
			if _, err := manager.StartCall(ctx, *chatID, *remoteID, ct); err != nil {
				reportCallError(err)
				continue
			}
			fmt.Println("Ringing...")

		case "accept":
			ic := takeRing(&mu, &ring)
			if ic == nil {
				fmt.Println("No incoming call.")
				continue
			}
			if _, err := ic.Accept(ctx); err != nil {
				reportCallError(err)
				continue
			}
			fmt.Println("Call accepted.")

		case "reject":
			ic := takeRing(&mu, &ring)
			if ic == nil {
				fmt.Println("No incoming call.")
				continue
			}
			if err := ic.Reject(ctx); err != nil {
				fmt.Println("Reject failed:", err)
			}

		case "hangup":
			if session, ok := manager.Session(*chatID); ok {
				session.End(ctx)
				fmt.Println("Call ended.")
			} else {
				fmt.Println("No active call.")
			}

		case "quit":
			return

		case "":
		default:
			fmt.Println("Commands: call, accept, reject, hangup, quit.")
		}
	}
}

func takeRing(mu *sync.Mutex, ring **call.IncomingCall) *call.IncomingCall {
	mu.Lock()
	defer mu.Unlock()
	ic := *ring
	*ring = nil
	return ic
}

func reportCallError(err error) {
	var me *call.MediaError
	if errors.As(err, &me) {
		fmt.Println(me.Message())
		return
	}
	fmt.Println("Call failed:", err)
}
