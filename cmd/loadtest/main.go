package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/logging"
	"chatrelay/internal/models"
)

type User struct {
	ID       string
	Username string
	Token    string
}

type options struct {
	baseURL      string
	users        int
	batchSize    int
	rate         float64
	duration     time.Duration
	channels     int
	privateRatio float64
	readRatio    float64
}

const probePrefix = "lt:"

func probeText(userIndex int, sent time.Time) string {
	return fmt.Sprintf("%s%d:%d", probePrefix, sent.UnixNano(), userIndex)
}

// parseProbe recovers the send time embedded by probeText.
func parseProbe(text string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(text, probePrefix)
	if !ok {
		return time.Time{}, false
	}
	nanos, _, _ := strings.Cut(rest, ":")
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

func registerUser(client *http.Client, baseURL string, id int) (*User, error) {
	payload := models.RegisterRequest{
		Username: fmt.Sprintf("loadtest_user_%d_%d", time.Now().Unix(), id),
		Password: "testpass123",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/api/auth/register", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration failed with status: %d", resp.StatusCode)
	}

	var result models.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &User{ID: result.ID, Username: result.Username, Token: result.Token}, nil
}

func registerUsers(logger *zap.Logger, opts options) []*User {
	client := &http.Client{Timeout: 10 * time.Second}
	users := make([]*User, opts.users)
	var wg sync.WaitGroup
	errChan := make(chan error, opts.users)

	for start := 0; start < opts.users; start += opts.batchSize {
		end := start + opts.batchSize
		if end > opts.users {
			end = opts.users
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				user, err := registerUser(client, opts.baseURL, i)
				if err != nil {
					errChan <- fmt.Errorf("failed to register user %d: %w", i, err)
					continue
				}
				users[i] = user
			}
		}(start, end)
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	errorCount := 0
	for err := range errChan {
		errorCount++
		if errorCount <= 10 {
			logger.Warn("registration error", zap.Error(err))
		}
	}

	registered := make([]*User, 0, opts.users)
	for _, user := range users {
		if user != nil {
			registered = append(registered, user)
		}
	}
	return registered
}

func wsURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

type session struct {
	index int
	user  *User
	conn  *websocket.Conn
	mu    sync.Mutex
}

func (s *session) send(eventType models.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(models.InboundMessage{Type: eventType, Payload: raw})
}

// readLoop measures delivery latency of this session's own probes.
func (s *session) readLoop(stats *Stats) {
	for {
		var evt models.InboundMessage
		if err := s.conn.ReadJSON(&evt); err != nil {
			return
		}
		if evt.Type != models.EventReceiveMessage && evt.Type != models.EventPrivateMessage {
			continue
		}
		var msg models.MessagePayload
		if err := json.Unmarshal(evt.Payload, &msg); err != nil || msg.SenderUserID != s.user.ID {
			continue
		}
		if sent, ok := parseProbe(msg.Message); ok {
			stats.recordSuccess(time.Since(sent), DeliveryOperation)
		}
	}
}

func simulateUser(s *session, peers []*User, opts options, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	client := &http.Client{Timeout: 5 * time.Second}
	channel := fmt.Sprintf("loadtest-%d", s.index%opts.channels)
	if err := s.send(models.EventJoinChannel, channel); err != nil {
		stats.recordError()
		return
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.rate))
	defer ticker.Stop()
	endTime := time.Now().Add(opts.duration)

	for time.Now().Before(endTime) {
		<-ticker.C

		roll := rand.Float64()
		switch {
		case roll < opts.readRatio:
			start := time.Now()
			req, _ := http.NewRequest(http.MethodGet, opts.baseURL+"/api/messages?channel="+url.QueryEscape(channel), nil)
			req.Header.Set("Authorization", "Bearer "+s.user.Token)
			resp, err := client.Do(req)
			if err != nil {
				stats.recordError()
				continue
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				stats.recordError()
				continue
			}
			stats.recordSuccess(time.Since(start), ReadOperation)

		case roll < opts.readRatio+opts.privateRatio && len(peers) > 1:
			peer := peers[rand.Intn(len(peers))]
			start := time.Now()
			err := s.send(models.EventPrivateMessage, models.PrivateMessageRequest{
				ToUserID: peer.ID,
				Message:  probeText(s.index, start),
			})
			if err != nil {
				stats.recordError()
				continue
			}
			stats.recordSuccess(time.Since(start), WriteOperation)

		default:
			start := time.Now()
			err := s.send(models.EventSendMessage, models.SendMessageRequest{
				Message: probeText(s.index, start),
				Channel: channel,
			})
			if err != nil {
				stats.recordError()
				continue
			}
			stats.recordSuccess(time.Since(start), WriteOperation)
		}
	}
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the chat server")
	flag.IntVar(&opts.users, "users", 200, "Number of simulated users")
	flag.IntVar(&opts.batchSize, "batch", 50, "Users registered per goroutine")
	flag.Float64Var(&opts.rate, "rate", 1, "Operations per second per user")
	flag.DurationVar(&opts.duration, "duration", 60*time.Second, "Length of the simulation")
	flag.IntVar(&opts.channels, "channels", 10, "Number of channels to spread users across")
	flag.Float64Var(&opts.privateRatio, "private", 0.2, "Share of operations that are private messages")
	flag.Float64Var(&opts.readRatio, "read", 0.2, "Share of operations that are history reads")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if opts.users <= 0 || opts.batchSize <= 0 || opts.rate <= 0 || opts.channels <= 0 {
		panic("users, batch, rate and channels must be positive")
	}

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting load test",
		zap.Int("users", opts.users),
		zap.Float64("rate", opts.rate),
		zap.Duration("duration", opts.duration))
	logger.Info("start the server with -loadtest to use a separate database")

	startTime := time.Now()
	users := registerUsers(logger, opts)
	logger.Info("registration finished",
		zap.Int("registered", len(users)),
		zap.Duration("took", time.Since(startTime)))
	if len(users) < opts.users/2 {
		logger.Fatal("too many registration failures, aborting load test")
	}

	stats := NewStats()
	var sessions []*session
	for i, user := range users {
		target, err := wsURL(opts.baseURL, user.Token)
		if err != nil {
			logger.Fatal("invalid base url", zap.Error(err))
		}
		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			stats.recordError()
			logger.Warn("dial failed", zap.String("username", user.Username), zap.Error(err))
			continue
		}
		s := &session{index: i, user: user, conn: conn}
		sessions = append(sessions, s)
		go s.readLoop(stats)
	}
	logger.Info("sockets connected", zap.Int("sessions", len(sessions)))

	var wg sync.WaitGroup
	start := time.Now()
	for _, s := range sessions {
		wg.Add(1)
		go simulateUser(s, users, opts, stats, &wg)
	}
	wg.Wait()

	// let in-flight deliveries land
	time.Sleep(2 * time.Second)
	duration := time.Since(start)
	for _, s := range sessions {
		s.conn.Close()
	}

	sum := stats.Summarize(duration)
	fields := []zap.Field{
		zap.Int64("total_requests", sum.TotalRequests),
		zap.Int64("successful_requests", sum.SuccessRequests),
		zap.Int64("failed_requests", sum.FailedRequests),
		zap.Duration("average_latency", sum.AverageLatency),
		zap.Duration("min_latency", sum.MinLatency),
		zap.Duration("max_latency", sum.MaxLatency),
		zap.Float64("requests_per_second", sum.RequestsPerSecond),
		zap.Duration("total_duration", duration),
	}
	for _, op := range []OperationType{WriteOperation, ReadOperation, DeliveryOperation} {
		fields = append(fields,
			zap.Int(op.String()+"_count", sum.Counts[op]),
			zap.Duration(op.String()+"_p99", sum.P99[op]))
	}
	logger.Info("load test results", fields...)
}
