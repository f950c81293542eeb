package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jimmythecoder/passkeys/internal/auth/storage"
)

const credentialColumns = "credential_id, user_id, name, public_key, attestation_type, aaguid, signature_counter, device_type, backed_up, transports, created_at, updated_at, last_used_at"

// CreateCredential persists a new registered authenticator.
func (s *Store) CreateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (credential_id, user_id, name, public_key, attestation_type, aaguid, signature_counter, device_type, backed_up, transports, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID,
		credential.UserID,
		credential.Name,
		credential.PublicKey,
		credential.AttestationType,
		credential.AAGUID,
		credential.SignatureCounter,
		credential.DeviceType,
		boolToInt(credential.BackedUp),
		joinList(credential.Transports),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// ListCredentialsByUser returns all credentials registered to a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// FindCredentialByIDs returns the first stored credential matching any given id.
func (s *Store) FindCredentialByIDs(ctx context.Context, credentialIDs []string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if len(credentialIDs) == 0 {
		return storage.Credential{}, fmt.Errorf("credential ids are required")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(credentialIDs)), ",")
	args := make([]any, 0, len(credentialIDs))
	for _, id := range credentialIDs {
		args = append(args, id)
	}

	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE credential_id IN ("+placeholders+") LIMIT 1", args...)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("find credential: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return storage.Credential{}, fmt.Errorf("find credential: %w", err)
		}
		return storage.Credential{}, storage.ErrNotFound
	}
	return scanCredential(rows)
}

// UpdateSignatureCounter records the counter from a successful authentication.
func (s *Store) UpdateSignatureCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET signature_counter = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ?`,
		counter,
		toMillis(usedAt),
		toMillis(usedAt),
		credentialID,
	)
	if err != nil {
		return fmt.Errorf("update signature counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update signature counter: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanCredential(rows *sql.Rows) (storage.Credential, error) {
	var (
		credential storage.Credential
		aaguid     []byte
		backedUp   int
		transports string
		createdAt  int64
		updatedAt  int64
		lastUsed   sql.NullInt64
	)
	err := rows.Scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.Name,
		&credential.PublicKey,
		&credential.AttestationType,
		&aaguid,
		&credential.SignatureCounter,
		&credential.DeviceType,
		&backedUp,
		&transports,
		&createdAt,
		&updatedAt,
		&lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.AAGUID = aaguid
	credential.BackedUp = backedUp != 0
	credential.Transports = splitList(transports)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
