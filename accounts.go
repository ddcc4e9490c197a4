package mailcore

import (
	"context"
	"fmt"

	"crawshaw.io/sqlite/sqlitex"

	"go.inkwell.dev/mailcore/mailerr"
	"go.inkwell.dev/mailcore/spilldb/db"
)

// openAccountDB opens cfg's account database, if configured, as the
// system of record for which account ids exist and how their devices
// authenticate. A Store with no AccountDBPath configured skips
// account-existence checks entirely.
func openAccountDB(path string) (*sqlitex.Pool, error) {
	if path == "" {
		return nil, nil
	}
	pool, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mailcore.openAccountDB: %w", err)
	}
	return pool, nil
}

// CreateAccount provisions a new account in the account store, the
// entry point a front end calls before any document collection for
// that account id is ever touched.
func (s *Store) CreateAccount(details db.UserDetails, primaryAddr string) (userID int64, err error) {
	if s.accounts == nil {
		return 0, mailerr.New(mailerr.InternalError, "no account database configured")
	}
	conn := s.accounts.Get(context.Background())
	if conn == nil {
		return 0, mailerr.New(mailerr.InternalError, "account database unavailable")
	}
	defer s.accounts.Put(conn)

	userID, err = db.AddUser(conn, details)
	if err != nil {
		return 0, fmt.Errorf("mailcore.CreateAccount: %w", err)
	}
	if err := db.AddUserAddress(conn, userID, primaryAddr, true); err != nil {
		return 0, fmt.Errorf("mailcore.CreateAccount: %w", err)
	}
	return userID, nil
}

// AddDevice registers a new app-password device for userID, the unit
// AuthenticateDevice checks credentials against.
func (s *Store) AddDevice(userID int64, deviceName, appPassword string) (deviceID int64, err error) {
	if s.accounts == nil {
		return 0, mailerr.New(mailerr.InternalError, "no account database configured")
	}
	conn := s.accounts.Get(context.Background())
	if conn == nil {
		return 0, mailerr.New(mailerr.InternalError, "account database unavailable")
	}
	defer s.accounts.Put(conn)

	deviceID, err = db.AddDevice(conn, userID, deviceName, appPassword)
	if err != nil {
		return 0, fmt.Errorf("mailcore.AddDevice: %w", err)
	}
	return deviceID, nil
}

// AuthenticateDevice checks username/password against the account
// store's registered devices, throttling repeated failures per
// remote address and username.
func (s *Store) AuthenticateDevice(ctx context.Context, remoteAddr, username string, password []byte) (userID int64, err error) {
	if s.authn == nil {
		return 0, mailerr.New(mailerr.InternalError, "no account database configured")
	}
	return s.authn.AuthDevice(ctx, remoteAddr, username, password)
}

// AccountExists reports whether account is a known account id in the
// account store. When no account database is configured it always
// reports true, so document-store-only tools and tests are unaffected.
func (s *Store) AccountExists(account uint32) (bool, error) {
	if s.accounts == nil {
		return true, nil
	}
	conn := s.accounts.Get(context.Background())
	if conn == nil {
		return false, mailerr.New(mailerr.InternalError, "account database unavailable")
	}
	defer s.accounts.Put(conn)

	stmt := conn.Prep("SELECT UserID FROM Users WHERE UserID = $userID;")
	stmt.SetInt64("$userID", int64(account))
	hasNext, err := stmt.Step()
	if err != nil {
		return false, fmt.Errorf("mailcore.AccountExists: %w", err)
	}
	stmt.Reset()
	return hasNext, nil
}

func closeAccountDB(pool *sqlitex.Pool) error {
	if pool == nil {
		return nil
	}
	return pool.Close()
}
