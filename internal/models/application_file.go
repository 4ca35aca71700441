package models

import "time"

// FileVersion distinguishes a freshly uploaded artifact from a backup copy.
type FileVersion string

const (
	FileVersionNew    FileVersion = "new"
	FileVersionBackup FileVersion = "backup"
)

// ApplicationFile is an uploaded artifact tied to an Application. OriginalName
// is unique within an application; rows are cascade-deleted with the parent.
type ApplicationFile struct {
	ID            int64       `db:"id" json:"id"`
	ApplicationID int64       `db:"application_id" json:"application_id"`
	Filename      string      `db:"filename" json:"filename"`
	OriginalName  string      `db:"original_name" json:"original_name"`
	Description   string      `db:"description" json:"description"`
	DBObjectType  *string     `db:"db_object_type" json:"db_object_type,omitempty"`
	DBObjectName  *string     `db:"db_object_name" json:"db_object_name,omitempty"`
	DBSchemaName  *string     `db:"db_schema_name" json:"db_schema_name,omitempty"`
	FileVersion   FileVersion `db:"file_version" json:"file_version"`
	Sequence      int         `db:"sequence" json:"sequence"`
	IsBackup      bool        `db:"is_backup" json:"is_backup"`
	BackupAt      *time.Time  `db:"backup_at" json:"backup_at,omitempty"`
	DeployStatus  *string     `db:"deploy_status" json:"deploy_status,omitempty"`
	DeployedAt    *time.Time  `db:"deployed_at" json:"deployed_at,omitempty"`
	CompileStatus *string     `db:"compile_status" json:"compile_status,omitempty"`
	CompiledAt    *time.Time  `db:"compiled_at" json:"compiled_at,omitempty"`
	UploadedAt    time.Time   `db:"uploaded_at" json:"uploaded_at"`
}

// FileMetaUpdate carries the mutable metadata columns for one file row.
type FileMetaUpdate struct {
	ID           int64       `json:"id"`
	Sequence     int         `json:"sequence"`
	Description  string      `json:"description"`
	FileVersion  FileVersion `json:"file_version"`
	DBObjectType *string     `json:"db_object_type,omitempty"`
	DBObjectName *string     `json:"db_object_name,omitempty"`
	DBSchemaName *string     `json:"db_schema_name,omitempty"`
	IsBackup     bool        `json:"is_backup"`
}
