package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Every multi-row operation runs
// inside one transaction so a failed step leaves no half-committed state.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Challenges ---------------------------------------------------------------

func (s *PGStore) ReplaceChallenge(ctx context.Context, ch *OTPChallenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from otp_challenges where email=$1 and apartment_id=$2`,
		ch.Email, ch.ApartmentID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into otp_challenges(id, email, apartment_id, code, expires_at)
		 values($1,$2,$3,$4,$5)`,
		ch.ID, ch.Email, ch.ApartmentID, ch.Code, ch.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) FindActiveChallenge(ctx context.Context, email, apartmentID, code string, now time.Time) (*OTPChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, apartment_id, code, expires_at, verified, created_at
		 from otp_challenges
		 where email=$1 and apartment_id=$2 and code=$3 and verified=false and expires_at > $4`,
		email, apartmentID, code, now,
	)
	return scanChallenge(row)
}

func (s *PGStore) FindChallenge(ctx context.Context, email, apartmentID, code string) (*OTPChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, apartment_id, code, expires_at, verified, created_at
		 from otp_challenges
		 where email=$1 and apartment_id=$2 and code=$3`,
		email, apartmentID, code,
	)
	return scanChallenge(row)
}

func (s *PGStore) MarkChallengeVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update otp_challenges set verified=true where id=$1 and verified=false`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}

func (s *PGStore) DeleteChallenge(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from otp_challenges where id=$1`, id)
	return err
}

func scanChallenge(row *sql.Row) (*OTPChallenge, error) {
	var ch OTPChallenge
	err := row.Scan(&ch.ID, &ch.Email, &ch.ApartmentID, &ch.Code, &ch.ExpiresAt, &ch.Verified, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// Identities ---------------------------------------------------------------

const identityColumns = `id, flat_uuid, apartment_id, email, role, flat_number, flat_floor, name, phone, created_at, updated_at`

func (s *PGStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	row := s.db.QueryRowContext(ctx,
		`insert into identities(flat_uuid, apartment_id, email, role, flat_number, flat_floor, name, phone)
		 values($1,$2,$3,$4,nullif($5,''),$6,$7,$8)
		 returning id, created_at, updated_at`,
		identity.FlatUUID, identity.ApartmentID, identity.Email, identity.Role,
		identity.FlatNumber, identity.Floor, identity.Name, identity.Phone,
	)
	if err := row.Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *PGStore) FindIdentity(ctx context.Context, id int64) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where id=$1`, id)
	return scanIdentity(row)
}

func (s *PGStore) FindIdentityByEmail(ctx context.Context, email, apartmentID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where email=$1 and apartment_id=$2`,
		email, apartmentID)
	return scanIdentity(row)
}

func (s *PGStore) FindFlatOccupant(ctx context.Context, apartmentID, flatNumber string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities
		 where apartment_id=$1 and flat_number=$2
		 order by created_at asc limit 1`,
		apartmentID, flatNumber)
	return scanIdentity(row)
}

func (s *PGStore) UpdateIdentityRole(ctx context.Context, id int64, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update identities set role=$2, updated_at=now() where id=$1`, id, role)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) UpdateIdentityProfile(ctx context.Context, identity *Identity) error {
	res, err := s.db.ExecContext(ctx,
		`update identities
		 set name=$2, phone=$3, flat_number=nullif($4,''), flat_floor=$5, updated_at=now()
		 where id=$1`,
		identity.ID, identity.Name, identity.Phone, identity.FlatNumber, identity.Floor,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		id   Identity
		flat sql.NullString
	)
	err := row.Scan(&id.ID, &id.FlatUUID, &id.ApartmentID, &id.Email, &id.Role,
		&flat, &id.Floor, &id.Name, &id.Phone, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	id.FlatNumber = flat.String
	return &id, nil
}

// Invitations --------------------------------------------------------------

const invitationColumns = `id, apartment_id, flat_number, floor, email, code, issuer_email, expires_at, used, used_at, created_at`

func (s *PGStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	_, err := s.db.ExecContext(ctx,
		`insert into invitations(id, apartment_id, flat_number, floor, email, code, issuer_email, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		inv.ID, inv.ApartmentID, inv.FlatNumber, inv.Floor, inv.Email, inv.Code,
		inv.IssuerEmail, inv.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PGStore) FindActiveInvitationForFlat(ctx context.Context, apartmentID, flatNumber, email string, now time.Time) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where apartment_id=$1 and flat_number=$2 and email=$3 and used=false and expires_at > $4`,
		apartmentID, flatNumber, email, now)
	return scanInvitation(row)
}

func (s *PGStore) InvitationCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from invitations where code=$1)`, code).Scan(&exists)
	return exists, err
}

func (s *PGStore) FindActiveInvitation(ctx context.Context, apartmentID, flatNumber, email, code string, now time.Time) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where apartment_id=$1 and flat_number=$2 and email=$3 and code=$4 and used=false and expires_at > $5`,
		apartmentID, flatNumber, email, code, now)
	return scanInvitation(row)
}

func (s *PGStore) FindInvitation(ctx context.Context, apartmentID, flatNumber, email, code string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where apartment_id=$1 and flat_number=$2 and email=$3 and code=$4`,
		apartmentID, flatNumber, email, code)
	return scanInvitation(row)
}

func (s *PGStore) LatestInvitationForEmail(ctx context.Context, apartmentID, email string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where apartment_id=$1 and email=$2
		 order by created_at desc limit 1`,
		apartmentID, email)
	return scanInvitation(row)
}

func (s *PGStore) RedeemInvitation(ctx context.Context, invitationID string, usedAt time.Time, identity *Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update invitations set used=true, used_at=$2 where id=$1 and used=false`,
		invitationID, usedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyConsumed
	}

	row := tx.QueryRowContext(ctx,
		`insert into identities(flat_uuid, apartment_id, email, role, flat_number, flat_floor)
		 values($1,$2,$3,$4,$5,$6)
		 returning id, created_at, updated_at`,
		identity.FlatUUID, identity.ApartmentID, identity.Email, identity.Role,
		identity.FlatNumber, identity.Floor,
	)
	if err := row.Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return tx.Commit()
}

func (s *PGStore) DeleteInvitation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from invitations where id=$1`, id)
	return err
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	var (
		inv    Invitation
		usedAt sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.ApartmentID, &inv.FlatNumber, &inv.Floor, &inv.Email,
		&inv.Code, &inv.IssuerEmail, &inv.ExpiresAt, &inv.Used, &usedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		inv.UsedAt = &t
	}
	return &inv, nil
}

// Refresh tokens -----------------------------------------------------------

func (s *PGStore) CreateRefreshToken(ctx context.Context, tok *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where identity_id=$1 and revoked=false`,
		tok.IdentityID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, identity_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		tok.ID, tok.IdentityID, tok.TokenHash, tok.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identity_id, token_hash, expires_at, revoked, created_at
		 from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	err := row.Scan(&tok.ID, &tok.IdentityID, &tok.TokenHash, &tok.ExpiresAt, &tok.Revoked, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *PGStore) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

// helpers ------------------------------------------------------------------

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
