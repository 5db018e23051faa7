// seed loads a clinic's worth of reference data: appointment types, provider
// lunch blocks and a spread of booked appointments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/app"
	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/pkg/logging"
)

var typeCatalog = []struct {
	name      string
	minutes   int
	post      int
	resources []string
}{
	{"New Patient Consult", 45, 10, nil},
	{"Follow-up", 20, 5, nil},
	{"Physiotherapy", 45, 15, []string{"treatment_room"}},
	{"Ultrasound", 30, 10, []string{"imaging_room", "ultrasound"}},
	{"Vaccination", 10, 5, nil},
	{"Minor Procedure", 60, 20, []string{"procedure_room"}},
}

func main() {
	providers := flag.Int("providers", 20, "number of providers")
	patients := flag.Int("patients", 500, "number of patients")
	days := flag.Int("days", 14, "days of schedule to fill")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "prod").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.LogLevel, cfg.Env), "seed")
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()
	a.Start(ctx)

	// Zero picks a random seed.
	_ = gofakeit.Seed(0)

	types, err := seedTypes(ctx, a.Appointments)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed appointment types")
	}

	providerIDs := make([]uuid.UUID, *providers)
	for i := range providerIDs {
		providerIDs[i] = uuid.New()
	}
	patientIDs := make([]uuid.UUID, *patients)
	for i := range patientIDs {
		patientIDs[i] = uuid.New()
	}

	firstDay := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	if err := seedBlocks(ctx, a.Appointments, providerIDs, firstDay, *days); err != nil {
		logger.Fatal().Err(err).Msg("seed provider blocks")
	}
	booked, conflicts, err := seedAppointments(ctx, a.Appointments, logger, types, providerIDs, patientIDs, firstDay, *days)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().
		Int("types", len(types)).
		Int("providers", len(providerIDs)).
		Int("patients", len(patientIDs)).
		Int("appointments", booked).
		Int("conflicts_skipped", conflicts).
		Msg("seed complete")
}

func seedTypes(ctx context.Context, svc *appointment.Service) ([]appointment.AppointmentType, error) {
	out := make([]appointment.AppointmentType, 0, len(typeCatalog))
	for _, c := range typeCatalog {
		t, err := svc.CreateType(ctx, appointment.AppointmentType{
			Name:               c.name,
			Color:              gofakeit.HexColor(),
			Duration:           time.Duration(c.minutes) * time.Minute,
			PostBuffer:         time.Duration(c.post) * time.Minute,
			ResourceCategories: c.resources,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		out = append(out, *t)
	}
	return out, nil
}

// seedBlocks gives every provider a weekday lunch break and the odd
// afternoon of admin time.
func seedBlocks(ctx context.Context, svc *appointment.Service, providers []uuid.UUID, firstDay time.Time, days int) error {
	for _, p := range providers {
		for d := 0; d < days; d++ {
			day := firstDay.AddDate(0, 0, d)
			if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
				continue
			}
			lunch := day.Add(12 * time.Hour)
			if _, err := svc.AddProviderBlock(ctx, appointment.ProviderBlock{
				ProviderID: p, Start: lunch, End: lunch.Add(time.Hour), Reason: "lunch",
			}); err != nil {
				return err
			}
			if gofakeit.Number(1, 10) == 1 {
				admin := day.Add(15 * time.Hour)
				if _, err := svc.AddProviderBlock(ctx, appointment.ProviderBlock{
					ProviderID: p, Start: admin, End: admin.Add(2 * time.Hour), Reason: gofakeit.BuzzWord() + " meeting",
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func seedAppointments(ctx context.Context, svc *appointment.Service, logger zerolog.Logger, types []appointment.AppointmentType,
	providers, patients []uuid.UUID, firstDay time.Time, days int) (booked, conflicts int, err error) {
	for d := 0; d < days; d++ {
		day := firstDay.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for _, p := range providers {
			for n := gofakeit.Number(4, 10); n > 0; n-- {
				typ := types[gofakeit.Number(0, len(types)-1)]
				start := day.Add(time.Duration(gofakeit.Number(8*4, 17*4-1)) * 15 * time.Minute)
				resources := make([]uuid.UUID, len(typ.ResourceCategories))
				for i := range resources {
					resources[i] = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", typ.ResourceCategories[i], gofakeit.Number(1, 3))))
				}

				_, err := svc.Create(ctx, appointment.CreateRequest{
					PatientID:         patients[gofakeit.Number(0, len(patients)-1)],
					ProviderID:        p,
					ResourceIDs:       resources,
					AppointmentTypeID: typ.ID,
					Start:             start,
					Source:            []appointment.Source{appointment.SourceFrontDesk, appointment.SourceOnline, appointment.SourcePhone}[gofakeit.Number(0, 2)],
				})
				switch {
				case err == nil:
					booked++
				case errors.Is(err, appointment.ErrConflict), errors.Is(err, appointment.ErrSlotBeingBooked):
					conflicts++
				default:
					return booked, conflicts, err
				}
			}
		}
		logger.Info().Time("day", day).Int("booked", booked).Msg("day seeded")
	}
	return booked, conflicts, nil
}
