package tickets_test

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/models"
	"bus-ticketing/internal/tickets"
	ticketdb "bus-ticketing/internal/tickets/db"
	"bus-ticketing/internal/tickets/lock"
)

func setupService(t *testing.T) (*tickets.TicketService, *ticketdb.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ticket)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.EmailLog)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Ride)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Stop)(nil)))

	store := &ticketdb.DB{Bun: bunDB}

	ride := models.Ride{ID: "R42", Name: "Centro - Stazione", DepartureTime: "14:05", CreatedAt: time.Now()}
	_, err = bunDB.NewInsert().Model(&ride).Exec(ctx)
	require.NoError(t, err)
	for _, stop := range []models.Stop{
		{ID: "stop-a", Name: "Piazza Garibaldi"},
		{ID: "stop-b", Name: "Stazione Centrale"},
	} {
		s := stop
		_, err = bunDB.NewInsert().Model(&s).Exec(ctx)
		require.NoError(t, err)
	}

	return tickets.NewTicketService(store, lock.NewLocalLocker(), logger.NewNop()), store
}

func validData() tickets.CreateTicketData {
	return tickets.CreateTicketData{
		Name:              "Mario",
		Surname:           "Rossi",
		Email:             "mario.rossi@example.com",
		PassengerCount:    2,
		RideID:            "R42",
		OriginStopID:      "stop-a",
		DestinationStopID: "stop-b",
		DepartureDate:     "2025-11-20",
		DepartureTime:     "14:05",
		AmountPaid:        1250,
		PaymentStatus:     models.PaymentStatusCompleted,
	}
}

func TestCreateAssignsFirstNumberInBucket(t *testing.T) {
	service, _ := setupService(t)

	ticket, err := service.Create(context.Background(), validData())
	require.NoError(t, err)
	assert.Equal(t, "20251120-R42-14-1", ticket.TicketNumber)
	assert.NotEmpty(t, ticket.ID)
	assert.False(t, ticket.Validated)
	assert.Equal(t, models.PaymentStatusCompleted, ticket.PaymentStatus)
}

func TestCreateIncrementsWithinBucket(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	first, err := service.Create(ctx, validData())
	require.NoError(t, err)
	assert.Equal(t, "20251120-R42-14-1", first.TicketNumber)

	second, err := service.Create(ctx, validData())
	require.NoError(t, err)
	assert.Equal(t, "20251120-R42-14-2", second.TicketNumber)
}

func TestCreateValidation(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*tickets.CreateTicketData)
	}{
		{"missing name", func(d *tickets.CreateTicketData) { d.Name = "" }},
		{"missing surname", func(d *tickets.CreateTicketData) { d.Surname = "" }},
		{"bad email", func(d *tickets.CreateTicketData) { d.Email = "not-an-email" }},
		{"bad date", func(d *tickets.CreateTicketData) { d.DepartureDate = "20-11-2025" }},
		{"impossible date", func(d *tickets.CreateTicketData) { d.DepartureDate = "2025-02-30" }},
		{"bad time", func(d *tickets.CreateTicketData) { d.DepartureTime = "2pm" }},
		{"zero passengers", func(d *tickets.CreateTicketData) { d.PassengerCount = 0 }},
		{"negative amount", func(d *tickets.CreateTicketData) { d.AmountPaid = -1 }},
		{"bad status", func(d *tickets.CreateTicketData) { d.PaymentStatus = "paid" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := validData()
			tc.mutate(&data)

			_, err := service.Create(ctx, data)
			require.Error(t, err)
			assert.True(t, tickets.IsClientError(err), "expected a client error, got %v", err)
		})
	}
}

func TestCreateUnknownReferences(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	data := validData()
	data.RideID = "R99"
	_, err := service.Create(ctx, data)
	require.Error(t, err)
	assert.True(t, tickets.IsClientError(err))
	assert.Contains(t, err.Error(), "ride")

	data = validData()
	data.DestinationStopID = "stop-z"
	_, err = service.Create(ctx, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop")
}

func TestConcurrentCreatesSameBucket(t *testing.T) {
	service, store := setupService(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.Create(context.Background(), validData())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "create %d", i)
	}

	numbers, err := store.TicketNumbersByPrefix(context.Background(), "20251120-R42-14-")
	require.NoError(t, err)
	require.Len(t, numbers, n)

	// Suffixes must be the contiguous run 1..n with no repeats.
	suffixes := make([]int, 0, n)
	for _, number := range numbers {
		suffix, convErr := strconv.Atoi(strings.TrimPrefix(number, "20251120-R42-14-"))
		require.NoError(t, convErr)
		suffixes = append(suffixes, suffix)
	}
	sort.Ints(suffixes)
	for i, suffix := range suffixes {
		assert.Equal(t, i+1, suffix, "numbers: %v", numbers)
	}
}

func TestFindByNumber(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, validData())
	require.NoError(t, err)

	got, err := service.FindByNumber(ctx, created.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = service.FindByNumber(ctx, "20300101-Z99-08-1")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestFindBySessionID(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	data := validData()
	data.PaymentSessionID = "cs_test_abc"
	created, err := service.Create(ctx, data)
	require.NoError(t, err)

	got, err := service.FindBySessionID(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = service.FindBySessionID(ctx, "cs_unknown")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestSetValidatedIdempotent(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, validData())
	require.NoError(t, err)

	updated, err := service.SetValidated(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Validated)

	// Second identical call succeeds and leaves the flag set.
	updated, err = service.SetValidated(ctx, created.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.Validated)

	_, err = service.SetValidated(ctx, "no-such-id", true)
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestListByRideAndDateValidatesDate(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.ListByRideAndDate(context.Background(), "R42", "not-a-date")
	require.Error(t, err)
	assert.True(t, tickets.IsClientError(err))
}

func TestCreateManyBucketsInterleaved(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	for hour := 8; hour < 12; hour++ {
		data := validData()
		data.DepartureTime = fmt.Sprintf("%02d:30", hour)
		ticket, err := service.Create(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("20251120-R42-%02d-1", hour), ticket.TicketNumber)
	}
}
