package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"prenotazioni/internal/domain"
	"prenotazioni/internal/models"

	"github.com/google/uuid"
)

const propertyColumns = `id, name, type, address, city, bedrooms, bathrooms, max_guests, base_price,
        cleaning_fee, amenities, cleaning_service_id, status, created_at, updated_at`

func scanProperty(row rowScanner) (*models.Property, error) {
	var (
		p         models.Property
		amenities string
		serviceID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Type, &p.Address, &p.City, &p.Bedrooms, &p.Bathrooms, &p.MaxGuests,
		&p.BasePrice, &p.CleaningFee, &amenities, &serviceID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(amenities), &p.Amenities); err != nil {
		return nil, fmt.Errorf("failed to decode amenities of property %s: %w", p.ID, err)
	}
	p.CleaningServiceID = stringPtr(serviceID)
	return &p, nil
}

func getPropertyWith(ctx context.Context, q querier, id string) (*models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE id = ?`
	p, err := scanProperty(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("property", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return p, nil
}

func (db *DB) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	return getPropertyWith(ctx, db, id)
}

// GetPropertyByName matches the name case-insensitively (accented letters
// included), ignoring surrounding spaces.
func (db *DB) GetPropertyByName(ctx context.Context, name string) (*models.Property, error) {
	name = strings.TrimSpace(name)
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE name_key = ?`
	p, err := scanProperty(db.QueryRowContext(ctx, query, nameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("property", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property by name: %w", err)
	}
	return p, nil
}

func (db *DB) ListProperties(ctx context.Context) ([]*models.Property, error) {
	return db.listProperties(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY name_key`)
}

func (db *DB) ListActiveProperties(ctx context.Context) ([]*models.Property, error) {
	return db.listProperties(ctx, `SELECT `+propertyColumns+` FROM properties WHERE status = ? ORDER BY name_key`,
		models.PropertyActive)
}

func (db *DB) listProperties(ctx context.Context, query string, args ...interface{}) ([]*models.Property, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// UpsertProperty inserts p or, when a property with the same name exists, updates it in place.
// p.ID is set to the stored identifier.
func (db *DB) UpsertProperty(ctx context.Context, p *models.Property) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.NewValidationError("name", "must not be empty")
	}
	if p.MaxGuests <= 0 {
		return domain.NewValidationError("max_guests", "must be positive")
	}
	if p.Status == "" {
		p.Status = models.PropertyActive
	}
	if !p.Status.Valid() {
		return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", p.Status))
	}
	if p.Amenities == nil {
		p.Amenities = []string{}
	}
	amenities, err := json.Marshal(p.Amenities)
	if err != nil {
		return fmt.Errorf("failed to encode amenities: %w", err)
	}

	return db.withWriteTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var existingID string
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT id, created_at FROM properties WHERE name_key = ?`, nameKey(p.Name)).
			Scan(&existingID, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO properties (`+propertyColumns+`, name_key)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.Name, p.Type, p.Address, p.City, p.Bedrooms, p.Bathrooms, p.MaxGuests, p.BasePrice,
				p.CleaningFee, string(amenities), nullString(p.CleaningServiceID), p.Status, now, now, nameKey(p.Name))
			p.CreatedAt = now
		case err != nil:
			return fmt.Errorf("failed to look up property: %w", err)
		default:
			p.ID = existingID
			p.CreatedAt = createdAt
			_, err = tx.ExecContext(ctx, `UPDATE properties SET name = ?, type = ?, address = ?, city = ?, bedrooms = ?,
                bathrooms = ?, max_guests = ?, base_price = ?, cleaning_fee = ?, amenities = ?, cleaning_service_id = ?,
                status = ?, updated_at = ? WHERE id = ?`,
				p.Name, p.Type, p.Address, p.City, p.Bedrooms, p.Bathrooms, p.MaxGuests, p.BasePrice, p.CleaningFee,
				string(amenities), nullString(p.CleaningServiceID), p.Status, now, p.ID)
		}
		if isForeignKeyViolation(err) {
			return domain.NewValidationError("cleaning_service_id", "unknown cleaning service")
		}
		if err != nil {
			return fmt.Errorf("failed to save property: %w", err)
		}
		p.UpdatedAt = now
		return nil
	})
}
