package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// Validators is the static validator table the schema document binds
// against. Entity-level validators run once per create; property-level
// validators run when their key is in the payload.
func Validators() map[string]ValidatorFunc {
	return map[string]ValidatorFunc{
		"validate_application_header": validateApplicationHeader,
		"validate_group_membership":   validateGroupMembership,
		"validate_organ_code":         validateOrganCode,
		"validate_sample_category":    validateSampleCategory,
		"validate_status_transition":  validateStatusTransition,
		"validate_retraction":         validateRetraction,
		"validate_previous_revision":  validatePreviousRevision,
		"validate_doi_fields":         validateDOIFields,
	}
}

func validateApplicationHeader(ctx context.Context, deps *Deps, inv *Invocation) error {
	app := strings.TrimSpace(inv.AppHeader)
	if app == "" {
		return fmt.Errorf("%s header required", schema.ApplicationHeader)
	}
	if !schema.ApplicationAllowed(app) {
		return fmt.Errorf("%s header value %q not allowed", schema.ApplicationHeader, app)
	}
	return nil
}

// validateGroupMembership rejects a caller writing under a group they do not
// belong to.
func validateGroupMembership(ctx context.Context, deps *Deps, inv *Invocation) error {
	groupUUID, ok := stringValue(inv.Payload, schema.KeyGroupUUID)
	if !ok {
		return nil
	}
	if deps.Auth == nil {
		return fmt.Errorf("auth client not configured")
	}
	if _, err := deps.Auth.GroupByUUID(ctx, groupUUID); err != nil {
		return err
	}
	if inv.User == nil || !inv.User.HasGroup(groupUUID) {
		return fmt.Errorf("user is not a member of group %s", groupUUID)
	}
	return nil
}

func validateOrganCode(ctx context.Context, deps *Deps, inv *Invocation) error {
	code, ok := stringValue(inv.Payload, inv.Key)
	if !ok {
		return fmt.Errorf("organ code must be a non-empty string")
	}
	if organName(code) == code {
		return fmt.Errorf("unknown organ code %q", code)
	}
	return nil
}

var sampleCategories = []string{"organ", "block", "section", "suspension"}

func validateSampleCategory(ctx context.Context, deps *Deps, inv *Invocation) error {
	category, ok := stringValue(inv.Payload, inv.Key)
	if !ok {
		return fmt.Errorf("sample_category must be a non-empty string")
	}
	for _, allowed := range sampleCategories {
		if strings.EqualFold(category, allowed) {
			return nil
		}
	}
	return fmt.Errorf("unknown sample_category %q", category)
}

// validateStatusTransition gates dataset status changes: the value must be a
// known status, changes come only from trusted applications, and nothing
// moves out of Published.
func validateStatusTransition(ctx context.Context, deps *Deps, inv *Invocation) error {
	raw, ok := stringValue(inv.Payload, inv.Key)
	if !ok {
		return fmt.Errorf("status must be a non-empty string")
	}
	newStatus := schema.NormalizeStatus(raw)
	if !knownStatus(newStatus) {
		return fmt.Errorf("unknown status %q", raw)
	}
	if err := validateApplicationHeader(ctx, deps, inv); err != nil {
		return err
	}
	current, _ := stringValue(inv.Existing, schema.KeyStatus)
	if current == schema.StatusPublished && newStatus != schema.StatusPublished {
		return fmt.Errorf("a published dataset cannot move back to %q", newStatus)
	}
	return nil
}

func knownStatus(status string) bool {
	switch status {
	case schema.StatusNew, schema.StatusProcessing, schema.StatusQA,
		schema.StatusPublished, schema.StatusError, schema.StatusHold,
		schema.StatusInvalid, schema.StatusSubmitted, schema.StatusIncomplete,
		schema.UploadStatusValid, schema.UploadStatusReorganized:
		return true
	}
	return false
}

// validateRetraction enforces the retraction pairing: retraction_reason and
// sub_status must arrive together, only against an already-published
// dataset, and only from a trusted application.
func validateRetraction(ctx context.Context, deps *Deps, inv *Invocation) error {
	_, hasReason := stringValue(inv.Payload, schema.KeyRetractionReason)
	_, hasSubStatus := stringValue(inv.Payload, schema.KeySubStatus)
	if hasReason != hasSubStatus {
		return fmt.Errorf("retraction_reason and sub_status must be provided together")
	}
	if !hasReason {
		return nil
	}
	if err := validateApplicationHeader(ctx, deps, inv); err != nil {
		return err
	}
	current, _ := stringValue(inv.Existing, schema.KeyStatus)
	if current != schema.StatusPublished {
		return fmt.Errorf("only published datasets can be retracted")
	}
	return nil
}

// validatePreviousRevision checks the revision target: it must exist, be a
// dataset, and not already have a next revision (chains stay linear).
func validatePreviousRevision(ctx context.Context, deps *Deps, inv *Invocation) error {
	previousUUID, ok := stringValue(inv.Payload, inv.Key)
	if !ok {
		return fmt.Errorf("previous_revision_uuid must be a non-empty string")
	}
	target, err := deps.Store.GetEntity(ctx, previousUUID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("previous revision %s does not exist", previousUUID)
	}
	targetType, _ := target["entity_type"].(string)
	isDataset, err := deps.Registry.InstanceOf(ctx, targetType, schema.TypeDataset)
	if err != nil || !isDataset {
		return fmt.Errorf("previous revision %s is a %s, not a dataset", previousUUID, targetType)
	}
	next, err := deps.Store.GetNextRevisionUUIDs(ctx, previousUUID)
	if err != nil {
		return err
	}
	if len(next) > 0 {
		return fmt.Errorf("dataset %s already has a next revision", previousUUID)
	}
	return nil
}

// validateDOIFields keeps registered_doi and doi_url coupled on collections.
func validateDOIFields(ctx context.Context, deps *Deps, inv *Invocation) error {
	_, hasDOI := stringValue(inv.Merged, "registered_doi")
	_, hasURL := stringValue(inv.Merged, "doi_url")
	if hasDOI != hasURL {
		return fmt.Errorf("registered_doi and doi_url must be provided together")
	}
	return nil
}
