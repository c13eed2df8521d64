package provision

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/validate"
)

// sharedGrants are the fine-grained grants a wiki user receives on the
// shared schema. Single sign-on and OAuth flows read (and partially write)
// these tables across wikis.
var sharedGrants = []struct {
	table      string
	privileges string
}{
	{"user", "SELECT, UPDATE, INSERT"},
	{"user_properties", "SELECT, UPDATE, INSERT, DELETE"},
	{"actor", "SELECT, UPDATE, INSERT"},
	{"oauth_registered_consumer", "SELECT"},
	{"oauth_accepted_consumer", "SELECT"},
	{"oauth2_access_tokens", "SELECT"},
}

// ProvisionDB creates the per-wiki database, its user and its grants. Every
// statement runs as its own round trip; identifiers are whitelisted and
// wrapped in backticks, never escaped.
func ProvisionDB(ctx context.Context, db *sqlx.DB, dbName, dbUser, password, sharedDBName string) error {
	if err := validate.Ident(dbName); err != nil {
		return err
	}
	if err := validate.Ident(dbUser); err != nil {
		return err
	}
	if err := validate.Ident(sharedDBName); err != nil {
		return err
	}
	pw, err := escapeLiteral(password)
	if err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'", dbUser, pw),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'", dbName, dbUser),
	}
	for _, g := range sharedGrants {
		statements = append(statements,
			fmt.Sprintf("GRANT %s ON `%s`.`%s` TO '%s'@'%%'", g.privileges, sharedDBName, g.table, dbUser))
	}
	statements = append(statements, "FLUSH PRIVILEGES")

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision database: %w", err)
		}
	}
	return nil
}

// DeprovisionDB drops the wiki user, then the wiki database. Every drop is
// best-effort so a partial provision can still be cleaned up.
func DeprovisionDB(ctx context.Context, db *sqlx.DB, dbName, dbUser string) error {
	if err := validate.Ident(dbName); err != nil {
		return err
	}
	if err := validate.Ident(dbUser); err != nil {
		return err
	}

	for _, stmt := range []string{
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%'", dbUser),
		fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", dbName),
		"FLUSH PRIVILEGES",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Logger.Warn().Err(err).Str("statement", stmt).Msg("deprovision statement failed")
		}
	}
	return nil
}

// escapeLiteral prepares a string for inclusion inside single quotes by
// doubling single quotes. Control characters and NUL are rejected outright.
func escapeLiteral(s string) (string, error) {
	for _, r := range s {
		if r == 0 || unicode.IsControl(r) {
			return "", fmt.Errorf("control/NUL characters in string literal")
		}
	}
	return strings.ReplaceAll(s, "'", "''"), nil
}
