package catalog

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/index"
)

// passwordCost is the bcrypt cost of stored hashes.
var passwordCost = bcrypt.DefaultCost

// AppendPassword adds a password to the catalog. Only its bcrypt hash is
// stored.
func (c *Catalog) AppendPassword(ctx context.Context, password string) error {
	const op = "password append"
	if err := c.check(op); err != nil {
		return err
	}
	if password == "" {
		return domain.E(domain.KindValidation, op, "", "password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return domain.Wrap(domain.KindValidation, op, "", err)
	}
	err = c.write(ctx, op, func(tx *index.Tx) error {
		if err := tx.AppendPassword(ctx, string(hash)); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Info("password appended")
	return nil
}

// VerifyPassword reports whether password matches any stored password. A
// catalog without passwords accepts only "".
func (c *Catalog) VerifyPassword(ctx context.Context, password string) (bool, error) {
	const op = "password verify"
	var hashes []string
	err := c.read(ctx, op, func(s *index.Store) error {
		var err error
		if hashes, err = s.Passwords(ctx); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if len(hashes) == 0 {
		return password == "", nil
	}
	for _, h := range hashes {
		err := bcrypt.CompareHashAndPassword([]byte(h), []byte(password))
		if err == nil {
			c.log.Debug("password verified")
			return true, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			c.log.Warn("unreadable password hash", "error", err)
		}
	}
	c.log.Debug("password rejected", "candidates", len(hashes))
	return false, nil
}

// ClearPasswords removes every password and returns how many there were.
func (c *Catalog) ClearPasswords(ctx context.Context) (int, error) {
	const op = "password clear"
	var n int
	err := c.write(ctx, op, func(tx *index.Tx) error {
		var err error
		if n, err = tx.ClearPasswords(ctx); err != nil {
			return domain.Wrap(domain.KindIO, op, "", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.log.Info("passwords cleared", "count", n)
	return n, nil
}
