package entity

import (
	"context"
	"net/http"
	"testing"

	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
)

func TestAncestorsFiltersNonpublicForAnonymous(t *testing.T) {
	env := newTestEnv(t, "read-grp")
	env.Store.put(publishedDataset("ds-pub"))
	env.Store.put(publishedDataset("anc-pub"))
	env.Store.put(unpublishedDataset("anc-new"))
	env.Store.parentsOf["ds-pub"] = []string{"anc-pub", "anc-new"}
	ctx := context.Background()

	out, err := env.Worker.Ancestors(ctx, env.caller(t, ""), "ds-pub", graph.LineageOptions{})
	if err != nil {
		t.Fatalf("anonymous ancestors: %v", err)
	}
	if len(out) != 1 || out[0]["uuid"] != "anc-pub" {
		t.Fatalf("anonymous should only see public ancestors: %v", out)
	}

	out, err = env.Worker.Ancestors(ctx, env.caller(t, "member-token"), "ds-pub", graph.LineageOptions{})
	if err != nil {
		t.Fatalf("member ancestors: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("member should see both ancestors: %v", out)
	}
}

func TestLineageAuthorizesSeedEntity(t *testing.T) {
	env := newTestEnv(t, "read-grp")
	env.Store.put(unpublishedDataset("ds-new"))

	_, err := env.Worker.Ancestors(context.Background(), env.caller(t, ""), "ds-new", graph.LineageOptions{})
	if apierr.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("anonymous traversal from nonpublic seed: want 401, got %v", err)
	}
}

func TestRevisionsRejectsBranchedChain(t *testing.T) {
	env := newTestEnv(t, "")
	env.Store.put(publishedDataset("ds-pub"))
	env.Store.nestedRevisions = true

	_, err := env.Worker.Revisions(context.Background(), env.caller(t, "member-token"), "ds-pub")
	if apierr.StatusOf(err) != http.StatusBadRequest || apierr.CodeOf(err) != "nested_revisions" {
		t.Fatalf("branched chain: want 400 nested_revisions, got %v", err)
	}
}

func TestEntitiesByTypeUnknownType(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.Worker.EntitiesByType(context.Background(), env.caller(t, "member-token"), "widget")
	if apierr.CodeOf(err) != "unknown_entity_type" {
		t.Fatalf("unknown type: got %v", err)
	}
}

func TestEntitiesByType(t *testing.T) {
	env := newTestEnv(t, "read-grp")
	env.Store.put(publishedDataset("ds-pub"))
	env.Store.put(unpublishedDataset("ds-new"))
	ctx := context.Background()

	out, err := env.Worker.EntitiesByType(ctx, env.caller(t, ""), "dataset")
	if err != nil {
		t.Fatalf("anonymous listing: %v", err)
	}
	if len(out) != 1 || out[0]["uuid"] != "ds-pub" {
		t.Fatalf("anonymous listing should hold published datasets only: %v", out)
	}
}
