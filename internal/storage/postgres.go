package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/example/fareshare/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded schema files in lexical order. Statements are
// written to be idempotent (IF NOT EXISTS) so re-running is safe.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO users(id, full_name, email, password_hash, role, verification_status, verification_method, rating_avg, rating_count, status, avatar_url, created_at)
		VALUES($1,$2,lower($3),$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.FullName, u.Email, u.PasswordHash, u.Role, u.VerificationStatus, u.VerificationMethod, u.RatingAvg, u.RatingCount, u.Status, u.AvatarURL, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id, full_name, email, password_hash, role, verification_status, verification_method, rating_avg, rating_count, status, avatar_url, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.VerificationStatus, &u.VerificationMethod, &u.RatingAvg, &u.RatingCount, &u.Status, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=lower($1)`, email))
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET full_name=$1, email=lower($2), password_hash=$3, role=$4, verification_status=$5, verification_method=$6, rating_avg=$7, rating_count=$8, status=$9, avatar_url=$10 WHERE id=$11`,
		u.FullName, u.Email, u.PasswordHash, u.Role, u.VerificationStatus, u.VerificationMethod, u.RatingAvg, u.RatingCount, u.Status, u.AvatarURL, u.ID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, driver_id, origin_label, destination_label, origin_lat, origin_lon, dest_lat, dest_lon, departure_time, seats_total, seats_available, price_share, vehicle_make, vehicle_model, vehicle_color, vehicle_year, notes, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.DriverID, r.OriginLabel, r.DestinationLabel, r.Origin.Lat, r.Origin.Lon, r.Destination.Lat, r.Destination.Lon, r.DepartureTime, r.SeatsTotal, r.SeatsAvailable, r.PriceShare, r.Vehicle.Make, r.Vehicle.Model, r.Vehicle.Color, r.Vehicle.Year, r.Notes, r.Status, r.CreatedAt)
	return err
}

const rideColumns = `id, driver_id, origin_label, destination_label, origin_lat, origin_lon, dest_lat, dest_lon, departure_time, seats_total, seats_available, price_share, vehicle_make, vehicle_model, vehicle_color, vehicle_year, notes, status, created_at`

func scanRide(row interface{ Scan(...any) error }) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.DriverID, &r.OriginLabel, &r.DestinationLabel, &r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon, &r.DepartureTime, &r.SeatsTotal, &r.SeatsAvailable, &r.PriceShare, &r.Vehicle.Make, &r.Vehicle.Model, &r.Vehicle.Color, &r.Vehicle.Year, &r.Notes, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET origin_label=$1, destination_label=$2, origin_lat=$3, origin_lon=$4, dest_lat=$5, dest_lon=$6, departure_time=$7, seats_total=$8, seats_available=$9, price_share=$10, vehicle_make=$11, vehicle_model=$12, vehicle_color=$13, vehicle_year=$14, notes=$15, status=$16 WHERE id=$17`,
		r.OriginLabel, r.DestinationLabel, r.Origin.Lat, r.Origin.Lon, r.Destination.Lat, r.Destination.Lon, r.DepartureTime, r.SeatsTotal, r.SeatsAvailable, r.PriceShare, r.Vehicle.Make, r.Vehicle.Model, r.Vehicle.Color, r.Vehicle.Year, r.Notes, r.Status, r.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) DeleteRide(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rides WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, int, error) {
	where := make([]string, 0, 8)
	args := make([]any, 0, 8)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch f.Type {
	case models.RideRequest:
		where = append(where, "status = 'requested'")
	case models.RideOffer:
		where = append(where, "status <> 'requested'")
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.DriverID != "" {
		where = append(where, "driver_id = "+arg(f.DriverID))
	}
	if f.MinSeats > 0 {
		where = append(where, "seats_available >= "+arg(f.MinSeats))
	}
	if f.MaxPrice > 0 {
		where = append(where, "price_share <= "+arg(f.MaxPrice))
	}
	if f.Search != "" {
		pat := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(lower(origin_label) LIKE "+arg(pat)+" OR lower(destination_label) LIKE "+arg(pat)+")")
	}
	if f.From != nil {
		where = append(where, "departure_time >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "departure_time < "+arg(*f.To))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM rides`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol := "departure_time"
	switch f.SortBy {
	case "price_share", "created_at", "seats_available":
		orderCol = f.SortBy
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	query := `SELECT ` + rideColumns + ` FROM rides` + cond + ` ORDER BY ` + orderCol + ` ` + dir
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, passenger_id, ride_id, seats_reserved, amount_paid, status, payment_ref, booked_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.PassengerID, b.RideID, b.SeatsReserved, b.AmountPaid, b.Status, b.PaymentRef, b.BookedAt)
	return err
}

const bookingColumns = `id, passenger_id, ride_id, seats_reserved, amount_paid, status, payment_ref, booked_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.PassengerID, &b.RideID, &b.SeatsReserved, &b.AmountPaid, &b.Status, &b.PaymentRef, &b.BookedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET seats_reserved=$1, amount_paid=$2, status=$3, payment_ref=$4 WHERE id=$5`,
		b.SeatsReserved, b.AmountPaid, b.Status, b.PaymentRef, b.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, int, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PassengerID != "" {
		where = append(where, "b.passenger_id = "+arg(f.PassengerID))
	}
	if f.DriverID != "" {
		where = append(where, "r.driver_id = "+arg(f.DriverID))
	}
	if f.RideID != "" {
		where = append(where, "b.ride_id = "+arg(f.RideID))
	}
	if f.Status != "" {
		where = append(where, "b.status = "+arg(string(f.Status)))
	}
	if f.From != nil {
		where = append(where, "b.booked_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "b.booked_at < "+arg(*f.To))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}
	from := ` FROM bookings b JOIN rides r ON r.id = b.ride_id`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*)`+from+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol := "b.booked_at"
	if f.SortBy == "departure_time" {
		orderCol = "r.departure_time"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	cols := `b.id, b.passenger_id, b.ride_id, b.seats_reserved, b.amount_paid, b.status, b.payment_ref, b.booked_at`
	query := `SELECT ` + cols + from + cond + ` ORDER BY ` + orderCol + ` ` + dir
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) ActiveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error) {
	return scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE ride_id=$1 AND passenger_id=$2 AND status IN ('pending','confirmed') LIMIT 1`, rideID, passengerID))
}

func (p *PostgresStore) CreateReview(ctx context.Context, rv *models.Review) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO reviews(id, ride_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rv.ID, rv.RideID, rv.ReviewerID, rv.RevieweeID, rv.Rating, rv.Comment, rv.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) HasReview(ctx context.Context, rideID, reviewerID, revieweeID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reviews WHERE ride_id=$1 AND reviewer_id=$2 AND reviewee_id=$3)`, rideID, reviewerID, revieweeID).Scan(&exists)
	return exists, err
}

const reviewColumns = `id, ride_id, reviewer_id, reviewee_id, rating, comment, created_at`

func scanReview(row interface{ Scan(...any) error }) (*models.Review, error) {
	var rv models.Review
	err := row.Scan(&rv.ID, &rv.RideID, &rv.ReviewerID, &rv.RevieweeID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (p *PostgresStore) ListReviewsForUser(ctx context.Context, userID string, offset, limit int) ([]*models.Review, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM reviews WHERE reviewee_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE reviewee_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]*models.Review, 0)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rv)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) ListReviewsForRide(ctx context.Context, rideID string) ([]*models.Review, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE ride_id=$1 ORDER BY created_at ASC`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Review, 0)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateIncident(ctx context.Context, in *models.Incident) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO incidents(id, reporter_id, reported_user_id, ride_id, booking_id, category, description, status, admin_notes, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		in.ID, in.ReporterID, in.ReportedUserID, in.RideID, in.BookingID, in.Category, in.Description, in.Status, in.AdminNotes, in.CreatedAt, in.UpdatedAt)
	return err
}

const incidentColumns = `id, reporter_id, reported_user_id, ride_id, booking_id, category, description, status, admin_notes, created_at, updated_at`

func scanIncident(row interface{ Scan(...any) error }) (*models.Incident, error) {
	var in models.Incident
	err := row.Scan(&in.ID, &in.ReporterID, &in.ReportedUserID, &in.RideID, &in.BookingID, &in.Category, &in.Description, &in.Status, &in.AdminNotes, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (p *PostgresStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	return scanIncident(p.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=$1`, id))
}

func (p *PostgresStore) UpdateIncident(ctx context.Context, in *models.Incident) error {
	res, err := p.db.ExecContext(ctx, `UPDATE incidents SET status=$1, admin_notes=$2, updated_at=$3 WHERE id=$4`,
		in.Status, in.AdminNotes, in.UpdatedAt, in.ID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) ListIncidents(ctx context.Context, f IncidentFilter) ([]*models.Incident, int, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 6)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.InvolvedUserID != "" {
		ph := arg(f.InvolvedUserID)
		where = append(where, "(reporter_id = "+ph+" OR reported_user_id = "+ph+")")
	}
	if f.ReporterID != "" {
		where = append(where, "reporter_id = "+arg(f.ReporterID))
	}
	if f.ReportedUserID != "" {
		where = append(where, "reported_user_id = "+arg(f.ReportedUserID))
	}
	if f.RideID != "" {
		where = append(where, "ride_id = "+arg(f.RideID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.From != nil {
		where = append(where, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at < "+arg(*f.To))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM incidents`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents` + cond + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]*models.Incident, 0)
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, in)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) AddIncidentComment(ctx context.Context, c *models.IncidentComment) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO incident_comments(id, incident_id, author_id, comment_text, is_admin, created_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		c.ID, c.IncidentID, c.AuthorID, c.Text, c.IsAdmin, c.CreatedAt)
	return err
}

func (p *PostgresStore) ListIncidentComments(ctx context.Context, incidentID string) ([]*models.IncidentComment, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, incident_id, author_id, comment_text, is_admin, created_at FROM incident_comments WHERE incident_id=$1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.IncidentComment, 0)
	for rows.Next() {
		var c models.IncidentComment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.AuthorID, &c.Text, &c.IsAdmin, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
