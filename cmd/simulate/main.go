package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/payments"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	PayRatio     float64
	ReadRatio    float64
	PatientLimit int
	HotSlots     int // slots every worker fights over
	JWTSecret    string
	PostgresDSN  string
	KafkaBrokers string
	KafkaTopic   string
}

type booking struct {
	appointmentID string
	patientID     string
}

type DataPool struct {
	Patients []string
	Slots    []string
	mu       sync.Mutex
	booked   []booking
	tokens   map[string]string
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, b)
}

// TakeBooking removes and returns a random booking.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return booking{}, false
	}
	idx := rng.Intn(len(dp.booked))
	b := dp.booked[idx]
	dp.booked[idx] = dp.booked[len(dp.booked)-1]
	dp.booked = dp.booked[:len(dp.booked)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking   OperationMetrics
	Cancel    OperationMetrics
	Pay       OperationMetrics
	ListSlots OperationMetrics
	ListMine  OperationMetrics
}

type Simulator struct {
	config    SimConfig
	pool      *DataPool
	client    *http.Client
	publisher *payments.Publisher
	staff     string
	logger    *slog.Logger
	metrics   Metrics
}

func main() {
	logger := logging.New("simulate", os.Getenv("LOG_LEVEL"))

	cfg, err := loadConfig()
	if err == nil {
		err = validateConfig(cfg)
	}
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"booking", cfg.BookingRatio,
		"cancel", cfg.CancelRatio,
		"pay", cfg.PayRatio,
		"read", cfg.ReadRatio,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data loaded", "patients", len(sim.pool.Patients), "hot_slots", len(sim.pool.Slots))

	sim.staff, err = auth.Issue(cfg.JWTSecret, auth.Identity{UserID: "sim-reception", Role: auth.RoleReception}, 2*cfg.Duration+time.Hour)
	if err != nil {
		logger.Error("issue staff token", "error", err)
		os.Exit(1)
	}

	if cfg.KafkaBrokers != "" {
		sim.publisher = payments.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = sim.publisher.Close() }()
		logger.Info("payments go through kafka", "topic", cfg.KafkaTopic)
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		PayRatio:     getFloat("SIM_PAY_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 20),
		JWTSecret:    baseCfg.JWTSecret,
		PostgresDSN:  baseCfg.PostgresDSN,
		KafkaBrokers: os.Getenv("SIM_KAFKA_BROKERS"),
		KafkaTopic:   baseCfg.KafkaPaymentsTopic,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.PayRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.PayRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, nil
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return errors.New("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dataPool := &DataPool{tokens: make(map[string]string)}

	rows, err := pool.Query(ctx, `SELECT id FROM patients ORDER BY id LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if len(dataPool.Patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}

	for _, id := range dataPool.Patients {
		tok, err := auth.Issue(s.config.JWTSecret, auth.Identity{UserID: id, Role: auth.RolePatient}, 2*s.config.Duration+time.Hour)
		if err != nil {
			return nil, fmt.Errorf("issue token for %s: %w", id, err)
		}
		dataPool.tokens[id] = tok
	}

	// Hot slots come from the public listing so the simulator sees exactly what patients see.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/slots?limit=%d", s.config.APIBaseURL, s.config.HotSlots), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list slots: status %d", resp.StatusCode)
	}
	var slots []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	for _, sl := range slots {
		dataPool.Slots = append(dataPool.Slots, sl.ID)
	}
	if len(dataPool.Slots) == 0 {
		return nil, errors.New("no open slots, generate some first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < c.BookingRatio:
				s.doBooking(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio:
				s.doCancel(ctx, rng)
			case r < c.BookingRatio+c.CancelRatio+c.PayRatio:
				s.doPay(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListSlots(ctx)
				} else {
					s.doListMine(ctx, rng)
				}
			}
		}
	}
}

// send returns the status code, or 0 on transport errors.
func (s *Simulator) send(ctx context.Context, method, path, token string, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	var out struct {
		AppointmentID string `json:"appointmentId"`
	}
	status := s.send(ctx, http.MethodPost, "/slots/"+slotID+"/book", s.pool.tokens[patientID], nil, &out)
	latency := time.Since(start)

	if status == http.StatusCreated && out.AppointmentID != "" {
		s.pool.AddBooking(booking{appointmentID: out.AppointmentID, patientID: patientID})
	}
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status := s.send(ctx, http.MethodPost, "/appointments/"+b.appointmentID+"/cancel", s.pool.tokens[b.patientID], nil, nil)
	s.metrics.Cancel.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doPay(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	ev := scheduling.PaymentEvent{
		AppointmentIDHint: b.appointmentID,
		PatientID:         b.patientID,
		Provider:          "paypal",
		Status:            string(scheduling.PaymentApproved),
		Amount:            int64(15000 + rng.Intn(20)*1000),
		OrderID:           "sim-" + uuid.NewString(),
	}

	start := time.Now()
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, ev)
		s.metrics.Pay.Record(time.Since(start), err == nil, false)
		return
	}
	status := s.send(ctx, http.MethodPost, "/payments/events", s.staff, ev, nil)
	s.metrics.Pay.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doListSlots(ctx context.Context) {
	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/slots?limit=50", "", nil, nil)
	s.metrics.ListSlots.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/appointments?limit=20", s.pool.tokens[patientID], nil, nil)
	s.metrics.ListMine.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Payment", &s.metrics.Pay)
	printOperationReport("List open slots", &s.metrics.ListSlots)
	printOperationReport("List my appointments", &s.metrics.ListMine)

	// A slot can have at most one live holder, so successes never exceed the
	// hot set plus the slots released by cancellations.
	won := atomic.LoadInt64(&s.metrics.Booking.Success)
	released := atomic.LoadInt64(&s.metrics.Cancel.Success)
	fmt.Printf("Booking winners: %d (hot slots %d, released by cancel %d)\n", won, len(s.pool.Slots), released)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
