// simulate drives concurrent front-desk traffic at a running api-server and
// checks afterwards that no provider ended up double booked.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/scheduling-core/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Providers    int
	Patients     int
	Days         int
	BookingRatio float64
	CancelRatio  float64
	ConfirmRatio float64
	ReadRatio    float64
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	TypeID    uuid.UUID
	FirstDay  time.Time

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking  OperationMetrics
	Cancel   OperationMetrics
	Confirm  OperationMetrics
	Waitlist OperationMetrics
	Read     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := logging.Component(logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")), "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("providers", cfg.Providers).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx := context.Background()
	if err := sim.bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}

	sim.Run(ctx)
	sim.PrintReport()

	overlaps, err := sim.verify(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify")
	}
	if overlaps > 0 {
		logger.Error().Int("overlaps", overlaps).Msg("double bookings found")
		os.Exit(1)
	}
	logger.Info().Msg("no double bookings found")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Providers:    getInt("SIM_PROVIDERS", 3),
		Patients:     getInt("SIM_PATIENTS", 200),
		Days:         getInt("SIM_DAYS", 2),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Providers <= 0 || cfg.Patients <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("SIM_PROVIDERS, SIM_PATIENTS and SIM_DAYS must be > 0")
	}
	return nil
}

// bootstrap creates the appointment type the run books against. Providers
// and patients are plain identifiers, so they are generated locally.
func (s *Simulator) bootstrap(ctx context.Context) error {
	var typ struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, "/appointment-types", map[string]any{
		"name":                fmt.Sprintf("Simulated Visit %d", time.Now().Unix()),
		"duration_minutes":    30,
		"post_buffer_minutes": 10,
	}, &typ)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create appointment type: status %d", status)
	}

	s.pool = &DataPool{
		TypeID:   typ.ID,
		FirstDay: time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 7),
	}
	for range s.config.Providers {
		s.pool.Providers = append(s.pool.Providers, uuid.New())
	}
	for range s.config.Patients {
		s.pool.Patients = append(s.pool.Patients, uuid.New())
	}
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Msg("starting simulation")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// randomSlot picks a quarter hour inside clinic hours. The grid is small on
// purpose so workers collide.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	day := s.pool.FirstDay.AddDate(0, 0, rng.Intn(s.config.Days))
	return day.Add(9*time.Hour + time.Duration(rng.Intn(32))*15*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	body := map[string]any{
		"patient_id":           patient,
		"provider_id":          s.pool.Providers[rng.Intn(len(s.pool.Providers))],
		"appointment_type_id":  s.pool.TypeID,
		"start":                s.randomSlot(rng),
		"source":               "ONLINE",
		"waitlist_on_conflict": rng.Intn(4) == 0,
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments", body, &created)
	if err != nil {
		return
	}
	switch status {
	case http.StatusCreated:
		s.pool.AddAppointment(created.ID)
		s.metrics.Booking.Record(time.Since(start), status)
	case http.StatusAccepted:
		s.metrics.Waitlist.Record(time.Since(start), status)
	default:
		s.metrics.Booking.Record(time.Since(start), status)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", map[string]any{"reason": "simulated"}, nil)
	if err == nil {
		s.metrics.Cancel.Record(time.Since(start), status)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/transitions", map[string]any{"event": "confirm"}, nil)
	if err == nil {
		s.metrics.Confirm.Record(time.Since(start), status)
	}
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var path string
	if id, ok := s.pool.GetRandomAppointment(rng); ok && rng.Intn(2) == 0 {
		path = "/appointments/" + id.String()
	} else {
		path = "/patients/" + s.pool.Patients[rng.Intn(len(s.pool.Patients))].String() + "/offers"
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		s.metrics.Read.Record(time.Since(start), status)
	}
}

type appointmentView struct {
	ID        uuid.UUID `json:"id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	SubStatus string    `json:"sub_status"`
	Override  bool      `json:"override"`
}

// verify lists every provider's calendar and counts overlapping pairs of
// live appointments. Buffers are ignored, so this is a lower bound.
func (s *Simulator) verify(ctx context.Context) (int, error) {
	from := s.pool.FirstDay.Format(time.RFC3339)
	to := s.pool.FirstDay.AddDate(0, 0, s.config.Days).Format(time.RFC3339)

	overlaps := 0
	for _, p := range s.pool.Providers {
		var appts []appointmentView
		status, err := s.call(ctx, http.MethodGet, "/appointments?provider_id="+p.String()+"&from="+from+"&to="+to, nil, &appts)
		if err != nil {
			return 0, err
		}
		if status != http.StatusOK {
			return 0, fmt.Errorf("list provider %s: status %d", p, status)
		}

		live := appts[:0]
		for _, a := range appts {
			if a.Override || a.SubStatus != "" || a.Status == "CANCELLED" || a.Status == "NO_SHOW" {
				continue
			}
			live = append(live, a)
		}
		sort.Slice(live, func(i, j int) bool { return live[i].Start.Before(live[j].Start) })
		for i := 1; i < len(live); i++ {
			if live[i].Start.Before(live[i-1].End) {
				overlaps++
				s.logger.Error().
					Str("provider_id", p.String()).
					Str("first", live[i-1].ID.String()).
					Str("second", live[i].ID.String()).
					Msg("overlap")
			}
		}
	}
	return overlaps, nil
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Queued on waitlist", &s.metrics.Waitlist)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
