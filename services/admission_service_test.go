package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burnweek/camp-registration-system/live"
	"github.com/burnweek/camp-registration-system/models"
)

func seedDefaultCatalog(f *fixture) {
	f.store.addResource(models.ResourceKindJob, 1, "Kitchen crew", true, 3)
	f.store.addResource(models.ResourceKindJob, 2, "Gate shift lead", true, 1)
	f.store.addResource(models.ResourceKindShift, 10, "Friday teardown", true, 0)
	f.store.addResource(models.ResourceKindCampingOption, 20, "RV spot", true, 2)
	f.store.addResource(models.ResourceKindJob, 3, "Retired job", false, 5)
}

func TestAdmissionCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path reserves all requested resources", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		reg, err := f.admission.Create(ctx, CreateRegistrationInput{
			ParticipantID:    7,
			Season:           2026,
			JobIDs:           []int{1},
			ShiftIDs:         []int{10},
			CampingOptionIDs: []int{20},
		})
		require.NoError(t, err)
		assert.Equal(t, models.RegistrationStatusPending, reg.Status)
		require.Len(t, reg.Assignments, 3)
		for _, a := range reg.Assignments {
			assert.Equal(t, models.AssignmentReserved, a.State)
		}
		assert.Equal(t, []string{live.EventRegistrationCreated}, f.broadcaster.eventTypes())
		assert.Eventually(t, func() bool {
			return f.notifier.received(NotificationRegistrationCreated)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("duplicate active registration conflicts", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 7, Season: 2026})
		require.NoError(t, err)

		_, err = f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 7, Season: 2026, JobIDs: []int{1}})
		require.ErrorIs(t, err, ErrDuplicateRegistration)

		// Same participant, different season is fine.
		_, err = f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 7, Season: 2027})
		require.NoError(t, err)
	})

	t.Run("concurrent creates for one key admit exactly one", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		const attempts = 10
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.admission.Create(ctx, CreateRegistrationInput{
					ParticipantID: 42,
					Season:        2026,
					JobIDs:        []int{1},
				})
			}(i)
		}
		wg.Wait()

		succeeded, conflicted := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrDuplicateRegistration):
				conflicted++
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, attempts-1, conflicted)

		count, err := f.store.CountActiveByKey(ctx, nil, 42, 2026)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("cancelled registration does not block re-registration", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		reg, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 7, Season: 2026, JobIDs: []int{2}})
		require.NoError(t, err)

		_, err = f.admin.Cancel(ctx, 1, reg.ID, CancelRegistrationInput{Reason: "requested"})
		require.NoError(t, err)

		again, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 7, Season: 2026, JobIDs: []int{2}})
		require.NoError(t, err)
		assert.NotEqual(t, reg.ID, again.ID)
		assert.Equal(t, models.RegistrationStatusPending, again.Status)

		// The cancelled row is preserved for audit history.
		old, err := f.store.FindByID(ctx, nil, reg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RegistrationStatusCancelled, old.Status)
	})

	t.Run("full resource under reject policy fails atomically", func(t *testing.T) {
		f := newFixture(FullPolicyReject, true)
		seedDefaultCatalog(f)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 2026, JobIDs: []int{2}})
		require.NoError(t, err)

		// Job 2 has one slot; requesting it plus an open shift must leave no
		// partial state behind.
		_, err = f.admission.Create(ctx, CreateRegistrationInput{
			ParticipantID: 2,
			Season:        2026,
			JobIDs:        []int{2},
			ShiftIDs:      []int{10},
		})
		require.ErrorIs(t, err, ErrResourceFull)

		count, err := f.store.CountActiveByKey(ctx, nil, 2, 2026)
		require.NoError(t, err)
		assert.Zero(t, count, "rejected admission must not leave a registration row")

		reserved, err := f.store.CountReserved(ctx, nil, models.ResourceRef{Kind: models.ResourceKindShift, ID: 10})
		require.NoError(t, err)
		assert.Zero(t, reserved, "rejected admission must not hold slots")
	})

	t.Run("full resource under waitlist policy admits as waitlisted", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 2026, JobIDs: []int{2}})
		require.NoError(t, err)

		reg, err := f.admission.Create(ctx, CreateRegistrationInput{
			ParticipantID: 2,
			Season:        2026,
			JobIDs:        []int{2},
			ShiftIDs:      []int{10},
		})
		require.NoError(t, err)
		assert.Equal(t, models.RegistrationStatusWaitlisted, reg.Status)

		// The full job is recorded as interest, the open shift is reserved.
		states := map[models.ResourceKind]models.AssignmentState{}
		for _, a := range reg.Assignments {
			states[a.ResourceKind] = a.State
		}
		assert.Equal(t, models.AssignmentWaitlisted, states[models.ResourceKindJob])
		assert.Equal(t, models.AssignmentReserved, states[models.ResourceKindShift])

		// Waitlisted assignments hold no slot.
		reserved, err := f.store.CountReserved(ctx, nil, models.ResourceRef{Kind: models.ResourceKindJob, ID: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, reserved)
	})

	t.Run("unknown resource fails with not found", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 2026, JobIDs: []int{999}})
		require.ErrorIs(t, err, ErrResourceNotFound)
	})

	t.Run("disabled resource is rejected", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)
		seedDefaultCatalog(f)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 2026, JobIDs: []int{3}})
		require.ErrorIs(t, err, ErrResourceDisabled)
	})

	t.Run("invalid season is rejected", func(t *testing.T) {
		f := newFixture(FullPolicyWaitlist, true)

		_, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 1776})
		require.ErrorIs(t, err, ErrInvalidSeason)
	})
}

func TestExpireStalePending(t *testing.T) {
	ctx := context.Background()

	f := newFixture(FullPolicyWaitlist, true)
	seedDefaultCatalog(f)

	stale, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 1, Season: 2026, JobIDs: []int{2}})
	require.NoError(t, err)

	// Second participant waitlists behind the stale one on job 2.
	waiting, err := f.admission.Create(ctx, CreateRegistrationInput{ParticipantID: 2, Season: 2026, JobIDs: []int{2}})
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusWaitlisted, waiting.Status)

	// Nothing is old enough yet.
	cancelled, err := f.admission.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, cancelled)

	// Age both registrations past the TTL.
	f.store.mu.Lock()
	for _, reg := range f.store.registrations {
		reg.CreatedAt = reg.CreatedAt.Add(-100 * time.Hour)
	}
	f.store.mu.Unlock()

	// Only the pending one matches the sweep; the waitlisted one is untouched
	// by the TTL and instead inherits the freed slot.
	cancelled, err = f.admission.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got, err := f.store.FindByID(ctx, nil, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCancelled, got.Status)

	promoted, err := f.store.FindByID(ctx, nil, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusPending, promoted.Status)

	reserved, err := f.store.CountReserved(ctx, nil, models.ResourceRef{Kind: models.ResourceKindJob, ID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, reserved)

	assert.Eventually(t, func() bool {
		return f.notifier.received(NotificationWaitlistPromoted)
	}, time.Second, 10*time.Millisecond, "sweep promotions must notify the promoted participant")
}
