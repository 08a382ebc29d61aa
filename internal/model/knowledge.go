package model

// NodeKind separates progressable concepts from auxiliary material.
type NodeKind string

const (
	NodeOperational NodeKind = "operational"
	NodeContext     NodeKind = "context"
)

// DependencyKind qualifies a prerequisite edge. Only blocking edges
// constrain progression ordering and unlock eligibility.
type DependencyKind string

const (
	DepBlocking    DependencyKind = "blocking"
	DepRecommended DependencyKind = "recommended"
	DepNone        DependencyKind = "none"
)

// ConceptNode is one learning concept. Immutable after knowledge-base import.
type ConceptNode struct {
	ID      string   `gorm:"primaryKey;type:varchar(100)" json:"id"`
	Name    string   `gorm:"size:255;not null" json:"name"`
	Subject string   `gorm:"size:100;not null;index" json:"subject"`
	Kind    NodeKind `gorm:"type:varchar(20);default:'operational'" json:"kind"`

	FormalDefinitions JSONMap  `gorm:"type:json" json:"formalDefinitions"`
	Formulas          JSONList `gorm:"type:json" json:"formulas"`
	CommonErrors      JSONList `gorm:"type:json" json:"commonErrors"`
	Examples          JSONList `gorm:"type:json" json:"examples"`
	Keywords          JSONList `gorm:"type:json" json:"keywords"`
	Metadata          JSONMap  `gorm:"type:json" json:"metadata"`
}

func (ConceptNode) TableName() string {
	return "concept_nodes"
}

type Theme struct {
	ID           string `gorm:"primaryKey;type:varchar(100)" json:"id"`
	Name         string `gorm:"size:255;not null" json:"name"`
	Subject      string `gorm:"size:100;not null" json:"subject"`
	Description  string `gorm:"type:text" json:"description"`
	DisplayOrder int    `json:"displayOrder"`
}

func (Theme) TableName() string {
	return "themes"
}

type NodeTheme struct {
	NodeID  string `gorm:"primaryKey;type:varchar(100)" json:"nodeId"`
	ThemeID string `gorm:"primaryKey;type:varchar(100)" json:"themeId"`
}

func (NodeTheme) TableName() string {
	return "node_themes"
}

// ConceptEdge is a directed prerequisite relation from -> to.
type ConceptEdge struct {
	FromNodeID  string         `gorm:"primaryKey;type:varchar(100)" json:"fromNodeId"`
	ToNodeID    string         `gorm:"primaryKey;type:varchar(100)" json:"toNodeId"`
	Dependency  DependencyKind `gorm:"type:varchar(20);not null" json:"dependency"`
	Description string         `gorm:"type:text" json:"description"`
}

func (ConceptEdge) TableName() string {
	return "concept_edges"
}

type Exercise struct {
	ID            string   `gorm:"primaryKey;type:varchar(100)" json:"id"`
	NodeID        string   `gorm:"type:varchar(100);not null;index" json:"nodeId"`
	Text          string   `gorm:"type:text;not null" json:"text"`
	Kind          string   `gorm:"size:50" json:"kind"`
	Difficulty    int      `gorm:"index" json:"difficulty"`
	Solution      JSONMap  `gorm:"type:json" json:"solution"`
	NodesInvolved JSONList `gorm:"type:json" json:"nodesInvolved"`
	Metadata      JSONMap  `gorm:"type:json" json:"metadata"`
}

func (Exercise) TableName() string {
	return "exercises"
}
