package schema

// Entity type labels as they appear in the graph store and the schema YAML.
const (
	TypeDonor         = "Donor"
	TypeSample        = "Sample"
	TypeDataset       = "Dataset"
	TypePublication   = "Publication"
	TypeCollection    = "Collection"
	TypeEpicollection = "Epicollection"
	TypeUpload        = "Upload"
	TypeActivity      = "Activity"
	TypeLab           = "Lab"
)

// Data access levels, most permissive first.
const (
	AccessLevelPublic     = "public"
	AccessLevelConsortium = "consortium"
	AccessLevelProtected  = "protected"
)

// Dataset statuses.
const (
	StatusNew        = "New"
	StatusProcessing = "Processing"
	StatusQA         = "QA"
	StatusPublished  = "Published"
	StatusError      = "Error"
	StatusHold       = "Hold"
	StatusInvalid    = "Invalid"
	StatusSubmitted  = "Submitted"
	StatusIncomplete = "Incomplete"
)

// Upload statuses (the subset not shared with datasets).
const (
	UploadStatusValid       = "Valid"
	UploadStatusReorganized = "Reorganized"
)

// Relationship types of the provenance model.
const (
	RelActivityInput  = "ACTIVITY_INPUT"
	RelActivityOutput = "ACTIVITY_OUTPUT"
	RelRevisionOf     = "REVISION_OF"
	RelInCollection   = "IN_COLLECTION"
	RelInUpload       = "IN_UPLOAD"
	RelUsesData       = "USES_DATA"
)

// Well-known property keys used across triggers and the entity worker.
const (
	KeyUUID             = "uuid"
	KeyHubmapID         = "hubmap_id"
	KeySubmissionID     = "submission_id"
	KeyEntityType       = "entity_type"
	KeyStatus           = "status"
	KeySubStatus        = "sub_status"
	KeyRetractionReason = "retraction_reason"
	KeyDataAccessLevel  = "data_access_level"
	KeyGroupUUID        = "group_uuid"
	KeyGroupName        = "group_name"
)

// HTTP header carrying the calling application identity on privileged writes.
const ApplicationHeader = "X-Hubmap-Application"

// Applications allowed to set application-restricted properties.
var AllowedApplications = []string{"ingest-api", "ingest-pipeline", "portal-ui"}

// ApplicationAllowed reports whether the header value names a trusted app.
func ApplicationAllowed(app string) bool {
	for _, allowed := range AllowedApplications {
		if app == allowed {
			return true
		}
	}
	return false
}
