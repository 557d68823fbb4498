package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/telecare-coordinator/internal/db"
)

// The simulator hammers the booking endpoint with deliberately overlapping
// (doctor, date, slot) tuples and verifies that no tuple ever yields more
// than one 201.
type simConfig struct {
	apiBaseURL string
	duration   time.Duration
	workers    int
	doctors    int
	slots      int
}

type counters struct {
	created  atomic.Int64
	conflict atomic.Int64
	rejected atomic.Int64
	errored  atomic.Int64
}

type winners struct {
	mu   sync.Mutex
	byID map[string]int // slot tuple -> number of 201s observed
}

func (w *winners) record(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.byID[key]++
	return w.byID[key]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := simConfig{}
	flag.StringVar(&cfg.apiBaseURL, "api", "http://127.0.0.1:8080", "api-server base URL")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.workers, "workers", 16, "concurrent booking workers")
	flag.IntVar(&cfg.doctors, "doctors", 5, "how many doctors to contend over")
	flag.IntVar(&cfg.slots, "slots", 8, "distinct slot labels per doctor")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required to load seeded doctor/patient ids")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLoad()

	doctorIDs, err := loadIDs(loadCtx, pool, "doctors", cfg.doctors)
	if err != nil {
		log.Fatalf("load doctors: %v", err)
	}
	patientIDs, err := loadIDs(loadCtx, pool, "patients", cfg.workers*4)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	log.Printf("contending %d workers over %d doctors x %d slots", cfg.workers, len(doctorIDs), cfg.slots)

	slotLabels := make([]string, cfg.slots)
	for i := range slotLabels {
		slotLabels[i] = fmt.Sprintf("%02d:00 AM", 8+i)
	}
	visitDate := time.Now().AddDate(0, 0, 7).Format("2006-01-02")

	var (
		stats counters
		wins  = &winners{byID: make(map[string]int)}
		wg    sync.WaitGroup
	)

	deadline := time.Now().Add(cfg.duration)
	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for time.Now().Before(deadline) {
				doctor := doctorIDs[rng.Intn(len(doctorIDs))]
				patient := patientIDs[rng.Intn(len(patientIDs))]
				slot := slotLabels[rng.Intn(len(slotLabels))]

				status := book(client, cfg.apiBaseURL, doctor, patient, visitDate, slot)
				switch status {
				case http.StatusCreated:
					stats.created.Add(1)
					key := doctor.String() + "|" + visitDate + "|" + slot
					if n := wins.record(key); n > 1 {
						log.Fatalf("INVARIANT VIOLATION: tuple %s booked %d times", key, n)
					}
				case http.StatusConflict:
					stats.conflict.Add(1)
				case http.StatusBadRequest, http.StatusNotFound:
					stats.rejected.Add(1)
				default:
					stats.errored.Add(1)
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}

	wg.Wait()

	log.Printf("done: created=%d conflict=%d rejected=%d errored=%d",
		stats.created.Load(), stats.conflict.Load(), stats.rejected.Load(), stats.errored.Load())
	log.Println("no double bookings observed")
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, table string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT id FROM %s LIMIT $1`, table), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no rows in %s, run cmd/seed first", table)
	}
	return ids, nil
}

func book(client *http.Client, base string, doctor, patient uuid.UUID, visitDate, slot string) int {
	body, _ := json.Marshal(map[string]string{
		"doctor_id":  doctor.String(),
		"patient_id": patient.String(),
		"visit_date": visitDate,
		"slot_label": slot,
		"mode":       "remote",
		"reason":     "load simulation",
	})

	resp, err := client.Post(base+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
