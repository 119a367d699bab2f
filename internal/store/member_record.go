package store

import (
	"database/sql"
	"fmt"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

func scanMemberRecord(scanner interface{ Scan(...any) error }) (*model.MemberRecord, error) {
	var rec model.MemberRecord
	var linkedUserID sql.NullInt64
	err := scanner.Scan(
		&rec.ID, &rec.HouseholdID, &rec.Name, &rec.Relation, &rec.Phone,
		&linkedUserID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if linkedUserID.Valid {
		rec.LinkedUserID = &linkedUserID.Int64
	}
	return &rec, nil
}

const memberRecordCols = `id, household_id, name, relation, phone, linked_user_id, created_at, updated_at`

// CreateMemberRecord adds a roster entry. Names are unique per household,
// case-insensitively; a duplicate returns membership.ErrDuplicateName.
func (s *Store) CreateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO member_records (household_id, name, relation, phone) VALUES (?, ?, ?, ?)`,
		rec.HouseholdID, rec.Name, rec.Relation, rec.Phone,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, membership.ErrDuplicateName
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetMemberRecord(id)
}

func (s *Store) GetMemberRecord(id int64) (*model.MemberRecord, error) {
	row := s.db.QueryRow(`SELECT `+memberRecordCols+` FROM member_records WHERE id = ?`, id)
	rec, err := scanMemberRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member record: %w", err)
	}
	return rec, nil
}

func (s *Store) ListMemberRecords(householdID int64) ([]model.MemberRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+memberRecordCols+` FROM member_records WHERE household_id = ? ORDER BY name ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list member records: %w", err)
	}
	defer rows.Close()

	var records []model.MemberRecord
	for rows.Next() {
		rec, err := scanMemberRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *Store) UpdateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error) {
	result, err := s.db.Exec(
		`UPDATE OR IGNORE member_records SET name = ?, relation = ?, phone = ?, updated_at = datetime('now') WHERE id = ?`,
		rec.Name, rec.Relation, rec.Phone, rec.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or the new name collides; tell them apart.
		existing, err := s.GetMemberRecord(rec.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
		return nil, membership.ErrDuplicateName
	}
	return s.GetMemberRecord(rec.ID)
}

// DeleteMemberRecord removes a roster entry; invitations bound to it are
// removed by the schema's cascade, which makes their codes unusable.
func (s *Store) DeleteMemberRecord(id int64) error {
	_, err := s.db.Exec(`DELETE FROM member_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member record: %w", err)
	}
	return nil
}
