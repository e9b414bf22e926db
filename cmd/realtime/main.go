package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roamly/travel-app/internal/auth"
	"github.com/roamly/travel-app/internal/chat"
	"github.com/roamly/travel-app/internal/db"
	"github.com/roamly/travel-app/internal/inquiry"
	"github.com/roamly/travel-app/internal/jobs"
	"github.com/roamly/travel-app/internal/messaging"
	"github.com/roamly/travel-app/internal/metrics"
	"github.com/roamly/travel-app/internal/notification"
	"github.com/roamly/travel-app/internal/presence"
	"github.com/roamly/travel-app/internal/protocol"
	"github.com/roamly/travel-app/internal/ratelimit"
	"github.com/roamly/travel-app/internal/typing"
	"github.com/roamly/travel-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	verifier := auth.NewVerifier([]byte(jwtSecret), os.Getenv("JWT_ISSUER"))

	serviceToken := os.Getenv("SERVICE_TOKEN")

	processID, _ := os.Hostname()
	if v := os.Getenv("PROCESS_ID"); v != "" {
		processID = v
	}
	if processID == "" {
		processID = "realtime-1"
	}

	// --- PostgreSQL (durable store, hard dependency) ---
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "postgres://localhost:5432/roamly?sslmode=disable"
	}
	handle, err := db.Open(context.Background(), databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	migrationsDir := "migrations"
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		migrationsDir = v
	}
	if err := db.Migrate(databaseURL, migrationsDir); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis (shared coordination store, soft dependency) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Presence and typing degrade until the store comes back; the
		// client reconnects lazily, so this is a warning, not a failure.
		log.Printf("WARNING: redis unreachable at startup: %v", err)
	}
	pingCancel()

	// --- NATS (broadcast fabric, soft dependency) ---
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "roamly-realtime-" + processID
	fabric, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to configure fabric: %v", err)
	}

	presenceTTL := presence.DefaultTTL
	if v := os.Getenv("PRESENCE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			presenceTTL = d
		}
	}
	coordinator := presence.NewCoordinator(rdb, processID, presenceTTL)
	coordinator.SetOnTransition(func(userID string, online bool) {
		err := fabric.PublishPresence(messaging.PresenceEvent{
			UserID: userID,
			Online: online,
			At:     time.Now().Unix(),
		})
		if err != nil {
			metrics.PublishFailures.WithLabelValues(messaging.SubjectPresence).Inc()
			log.Printf("presence transition publish failed user=%s: %v", userID, err)
		}
	})

	typingStore := typing.NewStore(rdb, typing.DefaultTTL)
	chatStore := chat.NewStore(handle)
	notificationStore := notification.NewStore(handle)
	notifier := notification.NewDispatcher(notificationStore, coordinator, fabric)
	inquiryStore := inquiry.NewStore(handle)
	limiter := ratelimit.NewLimiter(rdb)

	log.Printf("Roamly realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  process_id:      %s", processID)
	log.Printf("  presence_ttl:    %s", presenceTTL)

	// Declare server early so handler closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewDispatcher()

	// -----------------------------------------------------------------------
	// send_message — persist, then fan out
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, frame interface{}) {
		msg, ok := frame.(protocol.SendMessageFrame)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !allowed {
			ws.SendError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		if err := chat.ValidateContent(msg.Content); err != nil {
			ws.SendError(conn, "invalid_message", err.Error())
			return
		}
		if err := chat.ValidateMentions(msg.Mentioned); err != nil {
			ws.SendError(conn, "invalid_message", err.Error())
			return
		}

		participants, err := chatStore.Participants(ctx, msg.ChatID)
		if err != nil {
			log.Printf("[message] participants lookup failed chat=%s: %v", msg.ChatID, err)
			ws.SendError(conn, "send_failed", "could not send message")
			return
		}
		if !contains(participants, conn.UserID) {
			ws.SendError(conn, "invalid_chat", "not a participant of this chat")
			return
		}

		record := &chat.Message{
			ChatID:    msg.ChatID,
			SenderID:  conn.UserID,
			Content:   msg.Content,
			Mentioned: msg.Mentioned,
		}
		if err := chatStore.SaveMessage(ctx, record); err != nil {
			// Persistence failure is visible to the caller and nothing is
			// published — unpersisted facts are never broadcast.
			log.Printf("[message] persist failed chat=%s user=%s: %v", msg.ChatID, conn.UserID, err)
			ws.SendError(conn, "send_failed", "could not send message")
			return
		}

		event := messaging.ChatEvent{
			Kind:         messaging.KindMessage,
			MessageID:    record.ID,
			ChatID:       record.ChatID,
			SenderID:     record.SenderID,
			Content:      record.Content,
			Mentioned:    record.Mentioned,
			Participants: participants,
			CreatedAt:    record.CreatedAt.Unix(),
		}
		if err := fabric.PublishChatEvent(event); err != nil {
			// The message is durable; recipients will see it on next load.
			metrics.PublishFailures.WithLabelValues(messaging.SubjectChatEvents).Inc()
			log.Printf("[message] publish failed id=%s: %v", record.ID, err)
		}

		// Mentions become notifications: persisted rows first, pushed only
		// to users who are online right now.
		for _, uid := range dedupe(record.Mentioned) {
			if uid == conn.UserID || !contains(participants, uid) {
				continue
			}
			data, _ := json.Marshal(map[string]string{
				"chat_id":    record.ChatID,
				"message_id": record.ID,
			})
			err := notifier.Dispatch(ctx, &notification.Notification{
				UserID:  uid,
				Type:    "chat_mention",
				Title:   "You were mentioned",
				Message: record.Content,
				Data:    data,
			})
			if err != nil {
				log.Printf("[message] mention notification failed user=%s: %v", uid, err)
			}
		}
	})

	// -----------------------------------------------------------------------
	// typing — advisory, never fails the connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, frame interface{}) {
		t, ok := frame.(protocol.TypingFrame)
		if !ok || t.ChatID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := typingStore.SetTyping(ctx, t.ChatID, conn.UserID); err != nil {
			log.Printf("[typing] set failed chat=%s user=%s: %v", t.ChatID, conn.UserID, err)
		}

		participants, err := chatStore.Participants(ctx, t.ChatID)
		if err != nil || !contains(participants, conn.UserID) {
			return
		}
		err = fabric.PublishChatEvent(messaging.ChatEvent{
			Kind:         messaging.KindTyping,
			ChatID:       t.ChatID,
			SenderID:     conn.UserID,
			Participants: participants,
			CreatedAt:    time.Now().Unix(),
		})
		if err != nil {
			metrics.PublishFailures.WithLabelValues(messaging.SubjectChatEvents).Inc()
			log.Printf("[typing] publish failed chat=%s: %v", t.ChatID, err)
		}
	})

	// -----------------------------------------------------------------------
	// mark_read — at most once per user, regardless of connection count
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMarkRead, func(conn *ws.Connection, frame interface{}) {
		mr, ok := frame.(protocol.MarkReadFrame)
		if !ok || mr.MessageID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := chatStore.MarkRead(ctx, mr.MessageID, conn.UserID); err != nil {
			log.Printf("[mark_read] failed message=%s user=%s: %v", mr.MessageID, conn.UserID, err)
			ws.SendError(conn, "read_failed", "could not record read receipt")
		}
	})

	// Malformed frames count toward an abuse threshold; past it the
	// connection is dropped.
	dispatcher.SetOnViolation(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleViolation); !allowed {
			log.Printf("[abuse] dropping conn=%s user=%s: malformed frame threshold exceeded", conn.ID, conn.UserID)
			server.RemoveConnection(conn)
		}
	})

	server = ws.NewServer(config, verifier, coordinator, dispatcher.Dispatch)

	// -----------------------------------------------------------------------
	// Fabric fan-out: every process receives every event and forwards to
	// whatever participants have sockets here. No local match is the normal
	// case on most processes, not an error.
	// -----------------------------------------------------------------------
	if err := fabric.SubscribeChatEvents(func(ev messaging.ChatEvent) {
		switch ev.Kind {
		case messaging.KindMessage:
			frame, err := protocol.NewServerFrame(protocol.TypeMessageDelivered, protocol.MessageDeliveredFrame{
				MessageID: ev.MessageID,
				ChatID:    ev.ChatID,
				SenderID:  ev.SenderID,
				Content:   ev.Content,
				Mentioned: ev.Mentioned,
				CreatedAt: ev.CreatedAt,
			})
			if err != nil {
				return
			}
			for _, uid := range ev.Participants {
				if n := server.SendToUser(uid, frame); n > 0 {
					metrics.PushesTotal.WithLabelValues("message").Add(float64(n))
				}
			}

		case messaging.KindTyping:
			frame, err := protocol.NewServerFrame(protocol.TypeTypingUpdate, protocol.TypingUpdateFrame{
				ChatID: ev.ChatID,
				UserID: ev.SenderID,
			})
			if err != nil {
				return
			}
			for _, uid := range ev.Participants {
				if uid == ev.SenderID {
					continue // don't echo typing back to the typist
				}
				if n := server.SendToUser(uid, frame); n > 0 {
					metrics.PushesTotal.WithLabelValues("typing").Add(float64(n))
				}
			}
		}
	}); err != nil {
		log.Printf("WARNING: chat event subscription failed: %v", err)
	}

	if err := fabric.SubscribeNotifications(func(ev messaging.NotificationEvent) {
		frame, err := protocol.NewServerFrame(protocol.TypeNotificationPush, protocol.NotificationPushFrame{
			ID:               ev.ID,
			NotificationType: ev.Type,
			Title:            ev.Title,
			Message:          ev.Message,
			Data:             ev.Data,
			CreatedAt:        ev.CreatedAt,
		})
		if err != nil {
			return
		}
		if n := server.SendToUser(ev.UserID, frame); n > 0 {
			metrics.PushesTotal.WithLabelValues("notification").Add(float64(n))
		}
	}); err != nil {
		log.Printf("WARNING: notification subscription failed: %v", err)
	}

	if err := fabric.SubscribePresence(func(ev messaging.PresenceEvent) {
		frame, err := protocol.NewServerFrame(protocol.TypePresenceUpdate, protocol.PresenceUpdateFrame{
			UserID: ev.UserID,
			Online: ev.Online,
		})
		if err != nil {
			return
		}
		server.Registry().Broadcast(frame)
		metrics.PushesTotal.WithLabelValues("presence").Inc()
	}); err != nil {
		log.Printf("WARNING: presence subscription failed: %v", err)
	}

	// -----------------------------------------------------------------------
	// Collaborator surface: domain services (booking, inquiry, reviews)
	// create notifications through this endpoint; the dispatcher decides
	// whether a push accompanies the row.
	// -----------------------------------------------------------------------
	server.Handle("/internal/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if serviceToken == "" || r.Header.Get("X-Service-Token") != serviceToken {
			http.Error(w, "invalid service token", http.StatusUnauthorized)
			return
		}

		var req struct {
			UserID  string          `json:"user_id"`
			Type    string          `json:"type"`
			Title   string          `json:"title"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Type == "" {
			http.Error(w, "invalid notification payload", http.StatusBadRequest)
			return
		}

		n := &notification.Notification{
			UserID:  req.UserID,
			Type:    req.Type,
			Title:   req.Title,
			Message: req.Message,
			Data:    req.Data,
		}
		if err := notifier.Dispatch(r.Context(), n); err != nil {
			log.Printf("[notify] dispatch failed user=%s: %v", req.UserID, err)
			http.Error(w, "notification not persisted", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": n.ID})
	})

	// -----------------------------------------------------------------------
	// Maintenance jobs, decoupled from the live path. Daily sweeps run on
	// one designated cluster member; the typing scan is cheap enough to run
	// everywhere.
	// -----------------------------------------------------------------------
	var maintenance []*jobs.Job
	if os.Getenv("MAINTENANCE_ENABLED") != "false" {
		retentionHour := envHour("RETENTION_HOUR", 3)
		inquiryHour := envHour("INQUIRY_EXPIRATION_HOUR", 4)
		maintenance = []*jobs.Job{
			jobs.NewTypingSafetyNet(typingStore),
			jobs.NewNotificationRetention(notificationStore, retentionHour),
			jobs.NewInquiryExpiration(inquiryStore, inquiryHour),
		}
		for _, j := range maintenance {
			j.Start()
		}
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		for _, j := range maintenance {
			j.Stop()
		}
		fabric.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := handle.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func envHour(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			return n
		}
	}
	return fallback
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
