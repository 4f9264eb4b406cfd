// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge provides the knowledge-graph contract and its Neo4j
// implementation. Relations carry provenance (source file, page),
// corroboration strength and a temporal version tag so the answer
// pipeline can surface contradictions and revisions instead of
// silently picking one value.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("documind.knowledge.graph")

// Corroboration strength levels carried on relation edges. HIGH means
// the source text states the link explicitly; MEDIUM is the default
// for inferred links.
const (
	CorroborationLow    = "LOW"
	CorroborationMedium = "MEDIUM"
	CorroborationHigh   = "HIGH"
)

// adversarialRelTypes are relation types that mark one fact as
// disputing or replacing another. They are excluded from the first
// traversal hop and surfaced through a dedicated second hop instead.
var adversarialRelTypes = []string{"CONTRADICTS", "REVISES", "SUPERSEDES", "NEGATES"}

// Relation is one extracted (subject, predicate, object) triple.
type Relation struct {
	Subject       string
	Predicate     string
	Object        string
	Corroboration string // LOW / MEDIUM / HIGH, defaults to MEDIUM
	Period        string // temporal version tag, defaults to UNKNOWN
}

// GraphStore is the contract the query pipeline and the ingestion
// workflow depend on.
type GraphStore interface {
	QuerySubgraph(ctx context.Context, keywords []string) (string, error)
	AddRelations(ctx context.Context, relations []Relation, sourceFile string, page int) error
	DeleteDocument(ctx context.Context, filename string) error
}

// Neo4jStore implements GraphStore over a Bolt connection.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jStore connects to Neo4j and applies the schema constraints.
//
// # Description
//
// Opens a Bolt driver, verifies connectivity, and creates the
// uniqueness constraints and the relation-source index used by
// deletion. Constraint creation is idempotent.
//
// # Inputs
//
//   - ctx: Context for the connectivity check.
//   - uri: Bolt URI, e.g. "bolt://neo4j:7687".
//   - user, password: Basic auth credentials.
//
// # Outputs
//
//   - *Neo4jStore: Connected store.
//   - error: Non-nil if the connection or schema setup fails.
func NewNeo4jStore(ctx context.Context, uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity check failed: %w", err)
	}

	store := &Neo4jStore{driver: driver}
	if err := store.initializeSchema(ctx); err != nil {
		return nil, err
	}
	slog.Info("Connected to Neo4j", "uri", uri)
	return store, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) initializeSchema(ctx context.Context) error {
	constraints := []string{
		"CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE",
		"CREATE CONSTRAINT statute_name IF NOT EXISTS FOR (s:Statute) REQUIRE s.name IS UNIQUE",
		"CREATE CONSTRAINT person_name IF NOT EXISTS FOR (p:Person) REQUIRE p.name IS UNIQUE",
		"CREATE CONSTRAINT org_name IF NOT EXISTS FOR (o:Organization) REQUIRE o.name IS UNIQUE",
		"CREATE INDEX relation_source IF NOT EXISTS FOR ()-[r:RELATION]-() ON (r.source)",
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, c := range constraints {
		if _, err := session.Run(ctx, c, nil); err != nil {
			// Older server versions reject some constraint syntax;
			// the store still works without them, just slower.
			slog.Warn("Schema statement failed", "statement", c, "error", err)
		}
	}
	return nil
}

// NormalizePredicate converts free-text predicates into edge types
// ("was revised to" -> "WAS_REVISED_TO").
func NormalizePredicate(predicate string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(predicate)), " ", "_")
}

const addRelationsQuery = `
UNWIND $batch AS row
MERGE (s:Entity {name: row.subject})
ON CREATE SET s.type = row.subject_type
MERGE (o:Entity {name: row.object})
ON CREATE SET o.type = row.object_type
MERGE (s)-[r:RELATION {type: row.predicate, source: row.source}]->(o)
ON CREATE SET
    r.page = row.page,
    r.confidence = 0.95,
    r.created_at = datetime(),
    r.corroboration_strength = row.corroboration,
    r.temporal_version = row.period,
    r.mentions = 1
ON MATCH SET
    r.mentions = r.mentions + 1
`

// AddRelations merges a batch of relations into the graph.
//
// # Description
//
// Nodes are merged by name; the entity type is set only on creation so
// a node keeps its first classification. Edges are merged by
// (type, source) between the two nodes: the first write creates the
// edge with mentions = 1, every repeat of the same triple from the
// same source increments mentions instead of creating a duplicate.
// The merge is idempotent and commutative, so concurrent chunk writers
// need no coordination.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - relations: Extracted triples; entries missing subject, predicate
//     or object are skipped.
//   - sourceFile: Document the relations were extracted from.
//   - page: Page number attached to newly created edges.
//
// # Outputs
//
//   - error: Non-nil if the batch write fails.
func (s *Neo4jStore) AddRelations(ctx context.Context, relations []Relation, sourceFile string, page int) error {
	ctx, span := tracer.Start(ctx, "AddRelations")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", sourceFile),
		attribute.Int("relations", len(relations)),
	)

	batch := make([]map[string]any, 0, len(relations))
	for _, r := range relations {
		if r.Subject == "" || r.Predicate == "" || r.Object == "" {
			continue
		}
		corroboration := r.Corroboration
		if corroboration == "" {
			corroboration = CorroborationMedium
		}
		period := r.Period
		if period == "" {
			period = "UNKNOWN"
		}
		batch = append(batch, map[string]any{
			"subject":       r.Subject,
			"subject_type":  ClassifyEntity(r.Subject),
			"object":        r.Object,
			"object_type":   ClassifyEntity(r.Object),
			"predicate":     NormalizePredicate(r.Predicate),
			"source":        sourceFile,
			"page":          page,
			"corroboration": corroboration,
			"period":        period,
		})
	}
	if len(batch) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, addRelationsQuery, map[string]any{"batch": batch}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relation write failed")
		return fmt.Errorf("failed to write relations for %s: %w", sourceFile, err)
	}

	slog.Debug("Stored graph relations", "source", sourceFile, "page", page, "count", len(batch))
	return nil
}

const querySubgraphQuery = `
UNWIND $keywords AS keyword
MATCH (n:Entity) WHERE toLower(n.name) CONTAINS toLower(keyword)
MATCH (n)-[r1:RELATION]-(m)
WHERE NOT r1.type IN $adversarial
OPTIONAL MATCH (m)-[r2:RELATION]-(leaf)
WHERE r2.type IN $adversarial
RETURN n.name AS n_name,
       r1.type AS rel,
       m.name AS m_name,
       r1.corroboration_strength AS strength,
       r1.temporal_version AS period,
       r2.type AS rel2,
       leaf.name AS leaf_node
ORDER BY
    CASE r1.corroboration_strength
        WHEN 'HIGH' THEN 1
        WHEN 'MEDIUM' THEN 2
        ELSE 3
    END,
    r1.created_at DESC
LIMIT 50
`

// QuerySubgraph returns a text rendering of the relations touching the
// given keywords.
//
// # Description
//
// Matches entities whose name contains any keyword, walks their
// non-adversarial edges (HIGH corroboration first, newest first,
// capped at 50 rows), and for each reached node takes one optional
// additional hop over adversarial edges so contradicting or revising
// values appear next to the value they dispute.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - keywords: Entity keywords extracted from the question.
//
// # Outputs
//
//   - string: One formatted line per relation, empty when nothing
//     matches or keywords is empty.
//   - error: Non-nil if the query fails.
func (s *Neo4jStore) QuerySubgraph(ctx context.Context, keywords []string) (string, error) {
	ctx, span := tracer.Start(ctx, "QuerySubgraph")
	defer span.End()
	span.SetAttributes(attribute.Int("keywords", len(keywords)))

	if len(keywords) == 0 {
		return "", nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, querySubgraphQuery, map[string]any{
		"keywords":    keywords,
		"adversarial": adversarialRelTypes,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subgraph query failed")
		return "", fmt.Errorf("graph query failed: %w", err)
	}

	var lines []string
	for result.Next(ctx) {
		rec := result.Record()
		lines = append(lines, formatSubgraphRow(
			stringValue(rec, "n_name"),
			stringValue(rec, "rel"),
			stringValue(rec, "m_name"),
			stringValue(rec, "strength"),
			stringValue(rec, "period"),
			stringValue(rec, "rel2"),
			stringValue(rec, "leaf_node"),
		))
	}
	if err := result.Err(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("graph result iteration failed: %w", err)
	}

	span.SetAttributes(attribute.Int("relations", len(lines)))
	return strings.Join(lines, "\n"), nil
}

// formatSubgraphRow renders one relation, appending the adversarial
// second hop when present so the generator sees both values.
func formatSubgraphRow(nName, rel, mName, strength, period, rel2, leaf string) string {
	base := fmt.Sprintf("(%s) -[%s | %s | %s]-> (%s)", nName, rel, strength, period, mName)
	if rel2 == "" || leaf == "" {
		return base
	}
	return base + "\n" +
		fmt.Sprintf("  └─> [ALSO_SEE: %s] --> (ALTERNATIVE_VALUE: %s)", rel2, leaf) + "\n" +
		"      [Note: Multiple values present - check source for context]"
}

func stringValue(record *neo4j.Record, key string) string {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return ""
	}
	str, ok := raw.(string)
	if !ok {
		return fmt.Sprintf("%v", raw)
	}
	return str
}

// DeleteDocument removes every relation sourced from the given file
// and sweeps nodes left without any edges. Both steps run in one
// write transaction so a failure rolls back cleanly.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, filename string) error {
	ctx, span := tracer.Start(ctx, "DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("filename", filename))

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"MATCH ()-[r:RELATION]-() WHERE r.source = $f DELETE r",
			map[string]any{"f": filename},
		); err != nil {
			return nil, err
		}
		// Orphan sweep: nodes whose last edge was just deleted.
		if _, err := tx.Run(ctx,
			"MATCH (n:Entity) WHERE NOT (n)--() DELETE n", nil,
		); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "graph deletion failed")
		return fmt.Errorf("graph deletion failed for %s: %w", filename, err)
	}

	slog.Info("Purged graph data for document", "filename", filename)
	return nil
}

// VisualizationNode and VisualizationLink feed the graph inspection
// endpoint.
type VisualizationNode struct {
	ID    string `json:"id"`
	Group string `json:"group"`
}

type VisualizationLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

type VisualizationData struct {
	Nodes []VisualizationNode `json:"nodes"`
	Links []VisualizationLink `json:"links"`
	Total int64               `json:"total"`
}

// Visualization returns up to limit relations shaped for a force-graph
// rendering. The limit is clamped to [1, 5000].
func (s *Neo4jStore) Visualization(ctx context.Context, limit int) (*VisualizationData, error) {
	ctx, span := tracer.Start(ctx, "Visualization")
	defer span.End()

	if limit < 1 {
		limit = 1
	}
	if limit > 5000 {
		limit = 5000
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	countResult, err := session.Run(ctx, "MATCH ()-[r]->() RETURN count(r) AS c", nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("graph count failed: %w", err)
	}
	countRec, err := countResult.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph count failed: %w", err)
	}
	total, _ := countRec.Get("c")

	result, err := session.Run(ctx, `
MATCH (s)-[r]->(o)
RETURN s.name AS source,
       COALESCE(s.type, 'Entity') AS source_type,
       r.type AS relation,
       o.name AS target,
       COALESCE(o.type, 'Entity') AS target_type
LIMIT $limit`, map[string]any{"limit": limit})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("graph visualization query failed: %w", err)
	}

	data := &VisualizationData{}
	if n, ok := total.(int64); ok {
		data.Total = n
	}

	seen := make(map[string]bool)
	for result.Next(ctx) {
		rec := result.Record()
		source := stringValue(rec, "source")
		target := stringValue(rec, "target")

		if !seen[source] {
			seen[source] = true
			data.Nodes = append(data.Nodes, VisualizationNode{ID: source, Group: stringValue(rec, "source_type")})
		}
		if !seen[target] {
			seen[target] = true
			data.Nodes = append(data.Nodes, VisualizationNode{ID: target, Group: stringValue(rec, "target_type")})
		}
		data.Links = append(data.Links, VisualizationLink{
			Source: source,
			Target: target,
			Label:  stringValue(rec, "relation"),
		})
	}
	if err := result.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("graph visualization iteration failed: %w", err)
	}

	return data, nil
}
