package errx

import (
	"fmt"
	"net/http"
)

// WrapPostgres maps PostgreSQL errors onto the storage taxonomy.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}
	return New(fmt.Errorf("%w: %w", ErrStorageUnavailable, err), http.StatusBadGateway, PostgresErrorMessage)
}
