package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

var specialties = []string{
	"cardiologia",
	"dermatologia",
	"medicina general",
	"traumatologia",
	"endocrinologia",
	"neurologia",
	"pediatria",
	"psiquiatria",
	"oftalmologia",
	"otorrinolaringologia",
}

// Weekly shapes handed out to seeded doctors. Nil means the clinic default.
var templates = []scheduling.WeeklyTemplate{
	nil,
	{
		1: {{Start: "08:00", End: "12:00"}},
		3: {{Start: "08:00", End: "12:00"}, {Start: "15:00", End: "19:00"}},
		5: {{Start: "08:00", End: "12:00"}},
	},
	{
		2: {{Start: "14:00", End: "20:00"}},
		4: {{Start: "14:00", End: "20:00"}},
		6: {{Start: "09:00", End: "13:00"}},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("seed", "info").Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New("seed", cfg.LogLevel)
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	doctorIDs, err := seedDoctors(ctx, pool, faker, logger, getInt("SEED_DOCTORS", 20))
	if err != nil {
		logger.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	if err := seedPatients(ctx, pool, faker, logger, getInt("SEED_PATIENTS", 2000)); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}

	days := getInt("SEED_SLOT_DAYS", 14)
	if days > 0 {
		svc := scheduling.NewService(scheduling.NewPgRepository(pool), cfg, logger)
		if err := seedSlots(ctx, svc, logger, doctorIDs, days); err != nil {
			logger.Error("seed slots", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *slog.Logger, count int) ([]string, error) {
	logger.Info("seeding doctors", "count", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := "doc-" + uuid.NewString()[:8]
		spec := specialties[faker.Number(0, len(specialties)-1)]
		slotMins := []int{15, 20, 30, 45}[faker.Number(0, 3)]

		var weekly []byte
		if tmpl := templates[i%len(templates)]; tmpl != nil {
			weekly, err = json.Marshal(tmpl)
			if err != nil {
				return nil, err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, specialty, timezone, default_slot_mins, weekly_template, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
		`, id, "Dr. "+faker.Name(), spec, scheduling.DefaultTimezone, slotMins, weekly)
		if err != nil {
			return nil, fmt.Errorf("insert doctor %s: %w", id, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("doctors seeded", "count", len(ids))
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *slog.Logger, count int) error {
	logger.Info("seeding patients", "count", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, display_name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (id) DO NOTHING
			`, fmt.Sprintf("patient-%05d", i), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", "done", end, "total", count)
	}

	return nil
}

// seedSlots runs the regular generator as an admin so seeded slots match what
// the API would have produced.
func seedSlots(ctx context.Context, svc *scheduling.Service, logger *slog.Logger, doctorIDs []string, days int) error {
	admin := auth.Identity{UserID: "seed", Role: auth.RoleAdmin}
	from := time.Now().In(time.UTC).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, days-1)

	total := 0
	for _, id := range doctorIDs {
		res, err := svc.GenerateSlots(ctx, admin, scheduling.GenerateRequest{
			DoctorID: id,
			FromDate: from.Format(time.DateOnly),
			ToDate:   to.Format(time.DateOnly),
		})
		if err != nil {
			return fmt.Errorf("generate slots for %s: %w", id, err)
		}
		total += res.Created
	}

	logger.Info("slots seeded", "doctors", len(doctorIDs), "created", total)
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
