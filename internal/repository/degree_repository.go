package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uninorte/portal-api/internal/models"
)

const degreeColumns = `id, code, name, description, faculty, semesters, active, created_at, updated_at`

// DegreeRepository handles persistence of degree catalog entries.
type DegreeRepository struct {
	db *sqlx.DB
}

// NewDegreeRepository constructs the repository.
func NewDegreeRepository(db *sqlx.DB) *DegreeRepository {
	return &DegreeRepository{db: db}
}

// FindByID returns a degree by its ID.
func (r *DegreeRepository) FindByID(ctx context.Context, id string) (*models.Degree, error) {
	query := fmt.Sprintf(`SELECT %s FROM degrees WHERE id = $1`, degreeColumns)
	var degree models.Degree
	if err := r.db.GetContext(ctx, &degree, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find degree by id: %w", err)
	}
	return &degree, nil
}

// FindByCode returns a degree by its unique code.
func (r *DegreeRepository) FindByCode(ctx context.Context, code string) (*models.Degree, error) {
	query := fmt.Sprintf(`SELECT %s FROM degrees WHERE code = $1 LIMIT 1`, degreeColumns)
	var degree models.Degree
	if err := r.db.GetContext(ctx, &degree, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find degree by code: %w", err)
	}
	return &degree, nil
}

// List returns degrees filtered by the provided criteria.
func (r *DegreeRepository) List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, int, error) {
	baseQuery := `FROM degrees WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Faculty != "" {
		conditions = append(conditions, fmt.Sprintf("faculty = $%d", len(args)+1))
		args = append(args, filter.Faculty)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"code": true, "name": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "name"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", degreeColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var degrees []models.Degree
	if err := r.db.SelectContext(ctx, &degrees, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list degrees: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count degrees: %w", err)
	}
	return degrees, total, nil
}

// Create persists a new degree record.
func (r *DegreeRepository) Create(ctx context.Context, degree *models.Degree) error {
	if degree.ID == "" {
		degree.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if degree.CreatedAt.IsZero() {
		degree.CreatedAt = now
	}
	degree.UpdatedAt = now
	const query = `INSERT INTO degrees (id, code, name, description, faculty, semesters, active, created_at, updated_at)
        VALUES (:id, :code, :name, :description, :faculty, :semesters, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, degree); err != nil {
		return fmt.Errorf("create degree: %w", err)
	}
	return nil
}

// Update updates mutable fields of a degree.
func (r *DegreeRepository) Update(ctx context.Context, degree *models.Degree) error {
	degree.UpdatedAt = time.Now().UTC()
	const query = `UPDATE degrees SET name = :name, description = :description, faculty = :faculty, semesters = :semesters, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, degree); err != nil {
		return fmt.Errorf("update degree: %w", err)
	}
	return nil
}

// Delete performs a soft delete by marking the degree inactive.
func (r *DegreeRepository) Delete(ctx context.Context, id string) error {
	const query = `UPDATE degrees SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("delete degree: %w", err)
	}
	return nil
}
