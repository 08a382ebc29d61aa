package repository

import (
	"tutor_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeRepository reads and imports the knowledge base: concept nodes,
// edges, themes and exercises.
type NodeRepository struct {
	DB *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{DB: db}
}

func (r *NodeRepository) FindNodeByID(id string) (*model.ConceptNode, error) {
	var node model.ConceptNode
	err := r.DB.First(&node, "id = ?", id).Error
	return &node, err
}

func (r *NodeRepository) FindAllNodes() ([]model.ConceptNode, error) {
	var nodes []model.ConceptNode
	err := r.DB.Order("id").Find(&nodes).Error
	return nodes, err
}

func (r *NodeRepository) FindAllEdges() ([]model.ConceptEdge, error) {
	var edges []model.ConceptEdge
	err := r.DB.Find(&edges).Error
	return edges, err
}

func (r *NodeRepository) FindAllThemes() ([]model.Theme, error) {
	var themes []model.Theme
	err := r.DB.Order("display_order").Find(&themes).Error
	return themes, err
}

func (r *NodeRepository) FindThemeByID(id string) (*model.Theme, error) {
	var theme model.Theme
	err := r.DB.First(&theme, "id = ?", id).Error
	return &theme, err
}

func (r *NodeRepository) FindExerciseByID(id string) (*model.Exercise, error) {
	var ex model.Exercise
	err := r.DB.First(&ex, "id = ?", id).Error
	return &ex, err
}

// FindExercises returns the exercises for a node, optionally restricted
// to a difficulty range, minus the excluded ids.
func (r *NodeRepository) FindExercises(nodeID string, minDifficulty, maxDifficulty int, excludeIDs []string) ([]model.Exercise, error) {
	q := r.DB.Where("node_id = ?", nodeID)
	if maxDifficulty > 0 {
		q = q.Where("difficulty BETWEEN ? AND ?", minDifficulty, maxDifficulty)
	}
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	var exercises []model.Exercise
	err := q.Find(&exercises).Error
	return exercises, err
}

// Import upserts below are used by the one-shot knowledge-base import.

func (r *NodeRepository) UpsertNodes(tx *gorm.DB, nodes []model.ConceptNode) error {
	if len(nodes) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&nodes).Error
}

func (r *NodeRepository) UpsertEdges(tx *gorm.DB, edges []model.ConceptEdge) error {
	if len(edges) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&edges).Error
}

func (r *NodeRepository) UpsertThemes(tx *gorm.DB, themes []model.Theme) error {
	if len(themes) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&themes).Error
}

func (r *NodeRepository) UpsertNodeThemes(tx *gorm.DB, links []model.NodeTheme) error {
	if len(links) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

func (r *NodeRepository) UpsertExercises(tx *gorm.DB, exercises []model.Exercise) error {
	if len(exercises) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&exercises).Error
}
