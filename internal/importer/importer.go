package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"tutor_backend/internal/model"
	"tutor_backend/internal/repository"
	"tutor_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// nodeEntry is one concept node in the extraction file, carrying its
// theme memberships inline.
type nodeEntry struct {
	model.ConceptNode
	Themes []string `json:"themes"`
}

// extraction is the knowledge-base JSON produced by the content
// pipeline. Everything is upserted, so re-running an import is safe.
type extraction struct {
	Subject   string              `json:"subject"`
	Themes    []model.Theme       `json:"themes"`
	Nodes     []nodeEntry         `json:"nodes"`
	Edges     []model.ConceptEdge `json:"edges"`
	Exercises []model.Exercise    `json:"exercises"`
}

// Run imports one extraction file into the relational store in a single
// transaction.
func Run(db *gorm.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read extraction file: %w", err)
	}

	var ex extraction
	if err := json.Unmarshal(data, &ex); err != nil {
		return fmt.Errorf("parse extraction file: %w", err)
	}
	if len(ex.Nodes) == 0 {
		return fmt.Errorf("extraction file %s contains no nodes", path)
	}

	nodes := make([]model.ConceptNode, 0, len(ex.Nodes))
	var links []model.NodeTheme
	for _, entry := range ex.Nodes {
		n := entry.ConceptNode
		if n.Subject == "" {
			n.Subject = ex.Subject
		}
		if n.Kind == "" {
			n.Kind = model.NodeOperational
		}
		nodes = append(nodes, n)
		for _, themeID := range entry.Themes {
			links = append(links, model.NodeTheme{NodeID: n.ID, ThemeID: themeID})
		}
	}

	repo := repository.NewNodeRepository(db)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := repo.UpsertThemes(tx, ex.Themes); err != nil {
			return err
		}
		if err := repo.UpsertNodes(tx, nodes); err != nil {
			return err
		}
		if err := repo.UpsertNodeThemes(tx, links); err != nil {
			return err
		}
		if err := repo.UpsertEdges(tx, ex.Edges); err != nil {
			return err
		}
		return repo.UpsertExercises(tx, ex.Exercises)
	})
	if err != nil {
		return err
	}

	logger.Log.Info("Knowledge base imported",
		zap.String("file", path),
		zap.String("subject", ex.Subject),
		zap.Int("themes", len(ex.Themes)),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(ex.Edges)),
		zap.Int("exercises", len(ex.Exercises)))
	return nil
}
