package schema

// Module is a named, idempotent unit of DDL covering one business area. Every
// statement is of the "create if not exists" / "add column if not exists"
// family: applying a module zero or many times converges on the same state and
// never drops relations, columns, or data.
type Module struct {
	Name       string
	Tables     []string
	Statements []string
}

// ModuleCore holds the load-bearing tables every tenant database must have
// before it can serve a single request.
const (
	ModuleCore          = "core"
	ModuleDocuments     = "documents"
	ModuleHR            = "hr"
	ModuleReimbursement = "reimbursement"
	ModuleProjects      = "projects"
	ModuleFinancial     = "financial"
	ModuleGST           = "gst"
)

// RequiredTables is the fixed verification set checked after provisioning
// creates a tenant schema. A tenant database missing any of these is unusable.
var RequiredTables = []string{"users", "profiles", "roles", "user_roles", "attendance", "settings"}

// Modules lists every schema module in application order. Core goes first:
// later modules reference users and roles.
var Modules = []Module{
	{
		Name:   ModuleCore,
		Tables: []string{"users", "profiles", "roles", "user_roles", "settings", "sessions"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				full_name TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`ALTER TABLE users ADD COLUMN IF NOT EXISTS last_login_at TIMESTAMPTZ`,
			`CREATE TABLE IF NOT EXISTS profiles (
				user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				phone TEXT,
				designation TEXT,
				avatar_url TEXT,
				locale TEXT NOT NULL DEFAULT 'en',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS roles (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				is_admin BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS user_roles (
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_id, role_id)
			)`,
			`CREATE TABLE IF NOT EXISTS settings (
				id INT PRIMARY KEY DEFAULT 1,
				agency_name TEXT NOT NULL DEFAULT '',
				industry TEXT,
				address TEXT,
				locale TEXT NOT NULL DEFAULT 'en',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT settings_singleton CHECK (id = 1)
			)`,
			`ALTER TABLE settings ADD COLUMN IF NOT EXISTS timezone TEXT`,
			`ALTER TABLE settings ADD COLUMN IF NOT EXISTS currency TEXT NOT NULL DEFAULT 'USD'`,
			`ALTER TABLE settings ADD COLUMN IF NOT EXISTS website TEXT`,
			`ALTER TABLE settings ADD COLUMN IF NOT EXISTS phone TEXT`,
			`ALTER TABLE settings ADD COLUMN IF NOT EXISTS tax_id TEXT`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token_hash TEXT NOT NULL UNIQUE,
				ip_address TEXT,
				user_agent TEXT,
				last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMPTZ NOT NULL,
				revoked_at TIMESTAMPTZ,
				revoke_reason TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id)`,
		},
	},
	{
		Name:   ModuleDocuments,
		Tables: []string{"document_folders", "documents"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS document_folders (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				parent_id UUID REFERENCES document_folders(id) ON DELETE CASCADE,
				created_by UUID REFERENCES users(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id UUID PRIMARY KEY,
				folder_id UUID REFERENCES document_folders(id) ON DELETE SET NULL,
				title TEXT NOT NULL,
				file_path TEXT NOT NULL,
				mime_type TEXT,
				uploaded_by UUID REFERENCES users(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`ALTER TABLE documents ADD COLUMN IF NOT EXISTS file_size BIGINT NOT NULL DEFAULT 0`,
		},
	},
	{
		Name:   ModuleHR,
		Tables: []string{"employees", "attendance", "leave_requests"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS employees (
				id UUID PRIMARY KEY,
				user_id UUID REFERENCES users(id) ON DELETE SET NULL,
				employee_code TEXT NOT NULL UNIQUE,
				department TEXT,
				joined_at DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id UUID PRIMARY KEY,
				employee_id UUID NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
				work_date DATE NOT NULL,
				check_in TIMESTAMPTZ,
				check_out TIMESTAMPTZ,
				UNIQUE (employee_id, work_date)
			)`,
			`CREATE TABLE IF NOT EXISTS leave_requests (
				id UUID PRIMARY KEY,
				employee_id UUID NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
				leave_type TEXT NOT NULL,
				starts_on DATE NOT NULL,
				ends_on DATE NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`ALTER TABLE leave_requests ADD COLUMN IF NOT EXISTS approver_id UUID REFERENCES users(id)`,
		},
	},
	{
		Name:   ModuleReimbursement,
		Tables: []string{"reimbursements", "reimbursement_items"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS reimbursements (
				id UUID PRIMARY KEY,
				employee_id UUID NOT NULL,
				title TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'draft',
				submitted_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS reimbursement_items (
				id UUID PRIMARY KEY,
				reimbursement_id UUID NOT NULL REFERENCES reimbursements(id) ON DELETE CASCADE,
				description TEXT NOT NULL,
				amount NUMERIC(14,2) NOT NULL,
				receipt_path TEXT
			)`,
			`ALTER TABLE reimbursement_items ADD COLUMN IF NOT EXISTS expense_date DATE`,
		},
	},
	{
		Name:   ModuleProjects,
		Tables: []string{"projects", "project_tasks"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				client_name TEXT,
				status TEXT NOT NULL DEFAULT 'active',
				starts_on DATE,
				ends_on DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS project_tasks (
				id UUID PRIMARY KEY,
				project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				assignee_id UUID REFERENCES users(id),
				status TEXT NOT NULL DEFAULT 'todo',
				due_on DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS project_tasks_project_id_idx ON project_tasks (project_id)`,
		},
	},
	{
		Name:   ModuleFinancial,
		Tables: []string{"invoices", "invoice_items", "payments"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS invoices (
				id UUID PRIMARY KEY,
				invoice_number TEXT NOT NULL UNIQUE,
				client_name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'draft',
				issued_on DATE,
				due_on DATE,
				total NUMERIC(14,2) NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS invoice_items (
				id UUID PRIMARY KEY,
				invoice_id UUID NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
				description TEXT NOT NULL,
				quantity NUMERIC(10,2) NOT NULL DEFAULT 1,
				unit_price NUMERIC(14,2) NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS payments (
				id UUID PRIMARY KEY,
				invoice_id UUID REFERENCES invoices(id) ON DELETE SET NULL,
				amount NUMERIC(14,2) NOT NULL,
				method TEXT,
				received_on DATE NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`ALTER TABLE payments ADD COLUMN IF NOT EXISTS reference TEXT`,
		},
	},
	{
		Name:   ModuleGST,
		Tables: []string{"gst_registrations", "gst_returns"},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS gst_registrations (
				id UUID PRIMARY KEY,
				gstin TEXT NOT NULL UNIQUE,
				legal_name TEXT NOT NULL,
				state_code TEXT,
				registered_on DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE TABLE IF NOT EXISTS gst_returns (
				id UUID PRIMARY KEY,
				registration_id UUID NOT NULL REFERENCES gst_registrations(id) ON DELETE CASCADE,
				period TEXT NOT NULL,
				return_type TEXT NOT NULL,
				filed_at TIMESTAMPTZ,
				tax_payable NUMERIC(14,2) NOT NULL DEFAULT 0,
				UNIQUE (registration_id, period, return_type)
			)`,
		},
	},
}

// tableOwners maps every known table to its owning module; built once at init.
var tableOwners = func() map[string]string {
	owners := make(map[string]string)
	for _, m := range Modules {
		for _, t := range m.Tables {
			owners[t] = m.Name
		}
	}
	return owners
}()

// ModuleForTable returns the module owning the named table via exact lookup.
func ModuleForTable(table string) (string, bool) {
	name, ok := tableOwners[table]
	return name, ok
}
