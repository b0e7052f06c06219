//go:build integration

package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// getTestDSN prefers TEST_DATABASE_URL and otherwise starts one Postgres
// container shared by every test in the package. Ryuk reaps it after the run.
func getTestDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	containerOnce.Do(func() {
		ctx := context.Background()
		c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("circulation"),
			tcpostgres.WithUsername("circulation"),
			tcpostgres.WithPassword("circulation"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Fatalf("start postgres container: %v", containerErr)
	}
	return containerDSN
}
