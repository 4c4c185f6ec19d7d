package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"medipos/backend/internal/domain"
	"medipos/backend/internal/store"
)

// Master is the relational store for reference data. It lives in its own
// database, separate from the operational store, and nothing here is touched
// inside an operational transaction.
type Master struct {
	db *sql.DB
}

func NewMaster(ctx context.Context, databaseURL string) (*Master, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, storageErr(err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, storageErr(err)
	}

	return &Master{db: db}, nil
}

func (m *Master) Close() error {
	return m.db.Close()
}

func (m *Master) CreateStore(ctx context.Context, details domain.StoreDetails) (*domain.StoreDetails, error) {
	if details.StoreName == "" || details.LicenseNumber == "" || details.Mobile == "" {
		return nil, store.ErrInvalidInput
	}
	if details.Status == "" {
		details.Status = domain.StoreStatusActive
	}

	err := m.db.QueryRowContext(ctx, `
		INSERT INTO store_details (
			store_name, license_number, gst_number, pan, address,
			email, mobile, owner_name, is_main_store, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		RETURNING store_id
	`, details.StoreName, details.LicenseNumber, nullIfEmpty(details.GSTNumber), nullIfEmpty(details.PAN),
		details.Address, nullIfEmpty(details.Email), details.Mobile, details.OwnerName,
		details.IsMainStore, details.Status).Scan(&details.StoreID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &details, nil
}

func (m *Master) GetStoreByID(ctx context.Context, storeID int64) (*domain.StoreDetails, error) {
	var details domain.StoreDetails
	var gst, pan, email sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT store_id, store_name, license_number, gst_number, pan, address,
			email, mobile, owner_name, is_main_store, status
		FROM store_details
		WHERE store_id = $1
	`, storeID).Scan(&details.StoreID, &details.StoreName, &details.LicenseNumber, &gst, &pan,
		&details.Address, &email, &details.Mobile, &details.OwnerName, &details.IsMainStore, &details.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	details.GSTNumber = gst.String
	details.PAN = pan.String
	details.Email = email.String
	return &details, nil
}

func (m *Master) ListStores(ctx context.Context) ([]domain.StoreDetails, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT store_id, store_name, license_number, gst_number, pan, address,
			email, mobile, owner_name, is_main_store, status
		FROM store_details
		ORDER BY store_id
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	stores := make([]domain.StoreDetails, 0, 16)
	for rows.Next() {
		var details domain.StoreDetails
		var gst, pan, email sql.NullString
		if err := rows.Scan(&details.StoreID, &details.StoreName, &details.LicenseNumber, &gst, &pan,
			&details.Address, &email, &details.Mobile, &details.OwnerName, &details.IsMainStore, &details.Status); err != nil {
			return nil, storageErr(err)
		}
		details.GSTNumber = gst.String
		details.PAN = pan.String
		details.Email = email.String
		stores = append(stores, details)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return stores, nil
}

func (m *Master) UpdateStore(ctx context.Context, details domain.StoreDetails) (*domain.StoreDetails, error) {
	if details.StoreID < 1 || details.StoreName == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE store_details
		SET store_name = $2, address = $3, email = $4, mobile = $5,
			owner_name = $6, status = $7, updated_at = now()
		WHERE store_id = $1
	`, details.StoreID, details.StoreName, details.Address, nullIfEmpty(details.Email),
		details.Mobile, details.OwnerName, details.Status)
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := details
	return &updated, nil
}

func (m *Master) CreateManufacturer(ctx context.Context, mf domain.Manufacturer) (*domain.Manufacturer, error) {
	if mf.ManufacturerName == "" {
		return nil, store.ErrInvalidInput
	}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO manufacturer (manufacturer_name)
		VALUES ($1)
		RETURNING manufacturer_id
	`, mf.ManufacturerName).Scan(&mf.ManufacturerID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &mf, nil
}

func (m *Master) GetManufacturerByID(ctx context.Context, id int64) (*domain.Manufacturer, error) {
	var mf domain.Manufacturer
	err := m.db.QueryRowContext(ctx, `
		SELECT manufacturer_id, manufacturer_name
		FROM manufacturer
		WHERE manufacturer_id = $1
	`, id).Scan(&mf.ManufacturerID, &mf.ManufacturerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	return &mf, nil
}

func (m *Master) ListManufacturers(ctx context.Context) ([]domain.Manufacturer, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT manufacturer_id, manufacturer_name
		FROM manufacturer
		ORDER BY manufacturer_name
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	result := make([]domain.Manufacturer, 0, 64)
	for rows.Next() {
		var mf domain.Manufacturer
		if err := rows.Scan(&mf.ManufacturerID, &mf.ManufacturerName); err != nil {
			return nil, storageErr(err)
		}
		result = append(result, mf)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) CreateCategory(ctx context.Context, c domain.Category) (*domain.Category, error) {
	if c.CategoryName == "" {
		return nil, store.ErrInvalidInput
	}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO category (category_name)
		VALUES ($1)
		RETURNING category_id
	`, c.CategoryName).Scan(&c.CategoryID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &c, nil
}

func (m *Master) GetCategoryByID(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := m.db.QueryRowContext(ctx, `
		SELECT category_id, category_name
		FROM category
		WHERE category_id = $1
	`, id).Scan(&c.CategoryID, &c.CategoryName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	return &c, nil
}

func (m *Master) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT category_id, category_name
		FROM category
		ORDER BY category_name
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	result := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.CategoryID, &c.CategoryName); err != nil {
			return nil, storageErr(err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) CreateDistributor(ctx context.Context, d domain.Distributor) (*domain.Distributor, error) {
	if d.DistributorName == "" {
		return nil, store.ErrInvalidInput
	}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO distributor (distributor_name, mobile, email, address)
		VALUES ($1,$2,$3,$4)
		RETURNING distributor_id
	`, d.DistributorName, nullIfEmpty(d.Mobile), nullIfEmpty(d.Email), nullIfEmpty(d.Address)).Scan(&d.DistributorID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &d, nil
}

func (m *Master) GetDistributorByID(ctx context.Context, id int64) (*domain.Distributor, error) {
	var d domain.Distributor
	var mobile, email, address sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT distributor_id, distributor_name, mobile, email, address
		FROM distributor
		WHERE distributor_id = $1
	`, id).Scan(&d.DistributorID, &d.DistributorName, &mobile, &email, &address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	d.Mobile = mobile.String
	d.Email = email.String
	d.Address = address.String
	return &d, nil
}

func (m *Master) ListDistributors(ctx context.Context) ([]domain.Distributor, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT distributor_id, distributor_name, mobile, email, address
		FROM distributor
		ORDER BY distributor_name
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	result := make([]domain.Distributor, 0, 32)
	for rows.Next() {
		var d domain.Distributor
		var mobile, email, address sql.NullString
		if err := rows.Scan(&d.DistributorID, &d.DistributorName, &mobile, &email, &address); err != nil {
			return nil, storageErr(err)
		}
		d.Mobile = mobile.String
		d.Email = email.String
		d.Address = address.String
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) CreateMedicine(ctx context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error) {
	if med.MedicineName == "" || med.Formulation == "" || med.UnitOfMeasure == "" {
		return nil, store.ErrInvalidInput
	}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO medicine_master (
			medicine_name, generic_name, hsn_code, formulation, strength,
			unit_of_measure, manufacturer_id, category_id, schedule_type
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING medicine_id
	`, med.MedicineName, nullIfEmpty(med.GenericName), nullIfEmpty(med.HSNCode), med.Formulation,
		nullIfEmpty(med.Strength), med.UnitOfMeasure, med.ManufacturerID, med.CategoryID,
		nullIfEmpty(med.ScheduleType)).Scan(&med.MedicineID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &med, nil
}

const medicineColumns = `
	medicine_id, medicine_name, generic_name, hsn_code, formulation, strength,
	unit_of_measure, manufacturer_id, category_id, schedule_type`

func scanMedicine(scan func(dest ...any) error) (domain.MedicineMaster, error) {
	var med domain.MedicineMaster
	var generic, hsn, strength, schedule sql.NullString
	err := scan(&med.MedicineID, &med.MedicineName, &generic, &hsn, &med.Formulation,
		&strength, &med.UnitOfMeasure, &med.ManufacturerID, &med.CategoryID, &schedule)
	if err != nil {
		return domain.MedicineMaster{}, err
	}
	med.GenericName = generic.String
	med.HSNCode = hsn.String
	med.Strength = strength.String
	med.ScheduleType = schedule.String
	return med, nil
}

func (m *Master) GetMedicineByID(ctx context.Context, id int64) (*domain.MedicineMaster, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+medicineColumns+`
		FROM medicine_master
		WHERE medicine_id = $1
	`, id)
	med, err := scanMedicine(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	return &med, nil
}

func (m *Master) GetMedicinesByIDs(ctx context.Context, ids []int64) (map[int64]domain.MedicineMaster, error) {
	result := make(map[int64]domain.MedicineMaster, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+medicineColumns+`
		FROM medicine_master
		WHERE medicine_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		med, err := scanMedicine(rows.Scan)
		if err != nil {
			return nil, storageErr(err)
		}
		result[med.MedicineID] = med
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) GetMedicineByName(ctx context.Context, name string) (*domain.MedicineMaster, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+medicineColumns+`
		FROM medicine_master
		WHERE lower(medicine_name) = lower($1)
		ORDER BY medicine_id
		LIMIT 1
	`, strings.TrimSpace(name))
	med, err := scanMedicine(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr(err)
	}
	return &med, nil
}

func (m *Master) ListMedicines(ctx context.Context, limit int) ([]domain.MedicineMaster, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+medicineColumns+`
		FROM medicine_master
		ORDER BY medicine_name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	result := make([]domain.MedicineMaster, 0, limit)
	for rows.Next() {
		med, err := scanMedicine(rows.Scan)
		if err != nil {
			return nil, storageErr(err)
		}
		result = append(result, med)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) UpdateMedicine(ctx context.Context, med domain.MedicineMaster) (*domain.MedicineMaster, error) {
	if med.MedicineID < 1 || med.MedicineName == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE medicine_master
		SET medicine_name = $2, generic_name = $3, hsn_code = $4, strength = $5,
			unit_of_measure = $6, schedule_type = $7
		WHERE medicine_id = $1
	`, med.MedicineID, med.MedicineName, nullIfEmpty(med.GenericName), nullIfEmpty(med.HSNCode),
		nullIfEmpty(med.Strength), med.UnitOfMeasure, nullIfEmpty(med.ScheduleType))
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := med
	return &updated, nil
}

func (m *Master) CreateSubstitute(ctx context.Context, sub domain.Substitute) (*domain.Substitute, error) {
	if sub.MedicineID < 1 || sub.SubstituteMedicine == "" {
		return nil, store.ErrInvalidInput
	}
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO substitutes (medicine_id, substitute_medicine)
		VALUES ($1,$2)
		RETURNING substitute_id
	`, sub.MedicineID, sub.SubstituteMedicine).Scan(&sub.SubstituteID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, storageErr(err)
	}
	return &sub, nil
}

func (m *Master) ListSubstitutesByMedicine(ctx context.Context, medicineID int64) ([]domain.Substitute, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT substitute_id, medicine_id, substitute_medicine
		FROM substitutes
		WHERE medicine_id = $1
		ORDER BY substitute_id
	`, medicineID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	result := make([]domain.Substitute, 0, 8)
	for rows.Next() {
		var sub domain.Substitute
		if err := rows.Scan(&sub.SubstituteID, &sub.MedicineID, &sub.SubstituteMedicine); err != nil {
			return nil, storageErr(err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (m *Master) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.StoreID, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return storageErr(err)
}

func (m *Master) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT username, password, role, store_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return users, nil
}

func (m *Master) UpdateUserPassword(ctx context.Context, username string, password string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	return storageErr(err)
}
