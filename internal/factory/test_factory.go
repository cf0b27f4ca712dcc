package factory

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/dependencies/mocks"
	"github.com/mcoot/partylobby/internal/storage/memory"
	"github.com/mcoot/partylobby/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	cfg := withDefaults(Config{})
	cfg.Registry.SecretCost = bcrypt.MinCost

	app := newWithDependencies(store, mockClock, mockRandom, cfg, testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
