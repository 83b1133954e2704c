// Package model declares the entities of the trade-data fact ledger: one Go
// struct per entity from the data model, carried verbatim through every
// pipeline stage rather than reassembled ad hoc at each boundary.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionExport Direction = "EXPORT"
	DirectionImport Direction = "IMPORT"
)

type SourceFormat string

const (
	FormatFull  SourceFormat = "FULL"
	FormatShort SourceFormat = "SHORT"
	FormatOther SourceFormat = "OTHER"
)

type FileStatus string

const (
	FileStatusPending   FileStatus = "PENDING"
	FileStatusIngested  FileStatus = "INGESTED"
	FileStatusFailed    FileStatus = "FAILED"
	FileStatusDuplicate FileStatus = "DUPLICATE"
	FileStatusTest      FileStatus = "TEST"
)

// FileRegistry is one record per physical input file. Lifecycle timestamps
// are named <stage>_started_at / <stage>_completed_at and are modeled for
// ingestion (S1), standardization (S2) and identity resolution (S3).
type FileRegistry struct {
	ID               int64
	Name             string
	Path             string
	Fingerprint      string
	Country          string
	Direction        Direction
	SourceFormat     SourceFormat
	RowCount         int
	Status           FileStatus
	ErrorMessage     string
	IngestionStarted    *time.Time
	IngestionCompleted  *time.Time
	StandardizationStarted   *time.Time
	StandardizationCompleted *time.Time
	IdentityStarted     *time.Time
	IdentityCompleted   *time.Time
}

// MappingKey is the <country>_<direction>_<format> identifier a mapping
// config is looked up by, all lowercase per spec.
func MappingKey(country string, dir Direction, format SourceFormat) string {
	return strings.ToLower(country) + "_" + strings.ToLower(string(dir)) + "_" + strings.ToLower(string(format))
}

// RawRow is one record per input row, immutable after insertion.
type RawRow struct {
	ID             int64
	FileID         int64
	RowNumber      int
	Fields         *Bag
	RawHSCode      string
	RawBuyerName   string
	RawSupplierName string
	RawDate        string
}

// StandardizedRow is one record per RawRow that passed mapping.
type StandardizedRow struct {
	ID     int64
	RawID  int64
	FileID int64

	BuyerNameRaw    string
	SupplierNameRaw string
	BuyerUUID       *uuid.UUID
	SupplierUUID    *uuid.UUID

	HSCode6 string

	OriginCountry      string
	DestinationCountry string
	ReportingCountry   string
	Direction          Direction

	ExportDate   *time.Time
	ImportDate   *time.Time
	ShipmentDate *time.Time
	Year         *int
	Month        *int

	QtyOriginal     *float64
	QtyUnit         string
	QtyKg           *float64
	ValueOriginal   *float64
	ValueCurrency   string
	ValueType       string // FOB | CIF | CUSTOMS
	FOBValueUSD     *float64
	CIFValueUSD     *float64
	CustomsValueUSD *float64
	PriceUSDPerKg   *float64

	TEU              *float64
	VesselName       string
	ContainerID      string
	PortOfLoading    string
	PortOfDischarge  string

	HiddenBuyerFlag bool
	TransactionID   string // natural linkage key used as part of ledger idempotency
}

type OrgType string

const (
	OrgBuyer    OrgType = "BUYER"
	OrgSupplier OrgType = "SUPPLIER"
	OrgMixed    OrgType = "MIXED"
)

// Organization is one record per (normalized_name, country).
type Organization struct {
	UUID             uuid.UUID
	NormalizedName   string
	Country          string
	Type             OrgType
	RawNameVariants  []string
	FirstSeen        time.Time
	LastSeen         time.Time
	TransactionCount int64
}

// LedgerFact is one record per StandardizedRow that passed the validity
// gate. Composite key is (TransactionID, Year); StdID is unique per year
// and is the idempotency pivot for promotion.
type LedgerFact struct {
	TransactionID string
	Year          int
	StdID         int64

	BuyerUUID    *uuid.UUID
	SupplierUUID *uuid.UUID

	HSCode6            string
	OriginCountry      string
	DestinationCountry string
	ReportingCountry   string
	Direction          Direction

	ShipmentDate time.Time
	Month        int

	QtyKg           *float64
	CustomsValueUSD *float64
	PriceUSDPerKg   *float64
	TEU             *float64

	VesselName  string
	ContainerID string

	MirrorMatchedAt *time.Time
}

// MirrorMatch is one record per matched export, at most one per export.
type MirrorMatch struct {
	ExportTransactionID string
	ImportTransactionID string
	Score               float64
	Breakdown           map[string]float64
	CreatedAt           time.Time
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type RiskReason struct {
	Code     string
	Severity string
	Score    float64
	Context  map[string]any
}

// RiskOpinion is stored as one current record per (EntityType, EntityID,
// ScopeKey): an upsert overwrites that record, EngineVersion included, so
// opinions of different engine versions for the same entity and scope do
// not coexist. The store itself archives the prior record to history before
// each upsert (the trigger in spec.md §3 has no Go-side equivalent).
type RiskOpinion struct {
	EntityType    string // "SHIPMENT" | "BUYER"
	EntityID      string
	ScopeKey      string
	EngineVersion string

	Score      float64
	Level      RiskLevel
	MainReason string
	Reasons    []RiskReason
	Confidence float64
	ComputedAt time.Time
}

type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL"
)

// PipelineRun is one record per stage invocation — the sole structured
// output surface per spec.md §6.
type PipelineRun struct {
	RunID     uuid.UUID
	Stage     string
	Filters   map[string]string
	Processed int64
	Created   int64
	Updated   int64
	Skipped   int64
	Status    RunStatus
	StartedAt time.Time
	CompletedAt *time.Time
	ErrorMessage string
}

// Watermark is one record per incremental-analytics job.
type Watermark struct {
	Job       string
	UpTo      time.Time
	UpdatedAt time.Time
}
