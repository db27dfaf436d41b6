package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/port"
)

const (
	identifierDigits = 4
	licensePrefix    = "HQ-SW"
)

// AssetPrefix builds the stable part of an asset number: location code,
// category code and purchase year.
func AssetPrefix(locationCode, categoryCode string, year int) string {
	return fmt.Sprintf("%s-%s-%04d", locationCode, categoryCode, year)
}

func LicensePrefix(year int) string {
	return fmt.Sprintf("%s-%04d", licensePrefix, year)
}

// NextIdentifier returns the next "prefix-NNNN" identifier. It must run in
// the transaction that stores the identifier: the per-prefix counter row is
// locked until that transaction ends, so concurrent callers never receive the
// same number. Numbering continues past the greatest existing identifier,
// including ones that were supplied explicitly.
func NextIdentifier(ctx context.Context, tx port.Tx, kind port.IdentifierKind, prefix string) (string, error) {
	if prefix == "" {
		return "", domain.Validation("prefix", "is required")
	}

	current, ok, err := tx.LockSequence(ctx, prefix)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := tx.InsertSequence(ctx, prefix, 0); err != nil {
			return "", err
		}
		current, ok, err = tx.LockSequence(ctx, prefix)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", domain.Generation(prefix, "sequence row missing after insert")
		}
	}

	existing, err := tx.ListIdentifiers(ctx, kind, prefix)
	if err != nil {
		return "", err
	}
	last, err := greatestSuffix(prefix, existing)
	if err != nil {
		return "", err
	}

	next := max(current, last) + 1
	if err := tx.UpdateSequence(ctx, prefix, next); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%0*d", prefix, identifierDigits, next), nil
}

// greatestSuffix compares suffixes numerically, so "-10000" ranks above
// "-9999".
func greatestSuffix(prefix string, identifiers []string) (int, error) {
	greatest := 0
	for _, identifier := range identifiers {
		n, err := identifierSuffix(prefix, identifier)
		if err != nil {
			return 0, err
		}
		greatest = max(greatest, n)
	}
	return greatest, nil
}

// identifierSuffix parses the numeric tail of an existing identifier. An empty
// identifier yields 0.
func identifierSuffix(prefix, identifier string) (int, error) {
	if identifier == "" {
		return 0, nil
	}
	suffix := strings.TrimPrefix(identifier, prefix+"-")
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || suffix == identifier {
		return 0, domain.Generation(identifier, "suffix is not numeric")
	}
	return n, nil
}
