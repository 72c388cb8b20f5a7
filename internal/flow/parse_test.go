package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition_StructuralErrors(t *testing.T) {
	_, err := ParseDefinition([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseDefinition([]byte(`{"menus": [], "actionNodes": []}`))
	assert.Error(t, err)
}

func TestParseDefinition_ButtonWithBothTargetsKeepsAction(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [
			{"id": "M1", "text": "home", "buttons": [
				{"id": "b1", "text": "Go", "targetMenuId": "M2", "targetActionId": "A"}
			]},
			{"id": "M2", "text": "there"}
		],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "hi"}}
		]
	}`))
	require.NoError(t, err)

	btn := def.Menu("M1").Button("b1")
	require.NotNil(t, btn)
	assert.Equal(t, "A", btn.TargetActionID)
	assert.Empty(t, btn.TargetMenuID)
	assert.NotEmpty(t, def.Warnings)
}

func TestParseDefinition_MalformedConfigLoadsAsNoOp(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {}},
			{"id": "B", "type": "add_tag", "config": {"tag": "ok"}}
		]
	}`))
	require.NoError(t, err)

	assert.Nil(t, def.Node("A").Params)
	assert.NotNil(t, def.Node("B").Params)
	assert.NotEmpty(t, def.Warnings)
}

func TestParseDefinition_UnknownTypeLoadsAsNoOp(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "teleport_user", "config": {}}
		]
	}`))
	require.NoError(t, err)

	require.NotNil(t, def.Node("A"))
	assert.Nil(t, def.Node("A").Params)
}

func TestParseDefinition_LegacyFlatExitKeys(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "hi"}, "nextNodeId": "B"},
			{"id": "B", "type": "show_text", "config": {"text": "bye"}}
		]
	}`))
	require.NoError(t, err)

	next := def.Node("A").Next
	require.NotNil(t, next)
	assert.Equal(t, "B", next.TargetID)
	assert.Equal(t, TargetAction, next.Kind)
}

func TestParseDefinition_BinaryNodeDropsForeignBranches(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [{"id": "M1", "text": "yes"}],
		"actionNodes": [
			{"id": "A", "type": "if_else",
			 "config": {"condition": {"kind": "field", "field": "x", "operator": "exists"}},
			 "next": {"targetId": "M1", "targetType": "menu"},
			 "branches": {
				"yes": {"targetId": "M1", "targetType": "menu"},
				"maybe": {"targetId": "M1", "targetType": "menu"}
			 }}
		]
	}`))
	require.NoError(t, err)

	node := def.Node("A")
	assert.Nil(t, node.Next)
	assert.NotNil(t, node.Branch(BranchYes))
	assert.Nil(t, node.Branches["maybe"])
}

func TestParseDefinition_RandomResultStripsWeights(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [{"id": "M1", "text": "a"}],
		"actionNodes": [
			{"id": "A", "type": "random_result", "config": {"outcomeCount": 2},
			 "outcomes": [
				{"id": "o1", "weight": 70, "target": {"targetId": "M1", "targetType": "menu"}},
				{"id": "o2", "weight": 30, "target": {"targetId": "M1", "targetType": "menu"}}
			 ]}
		]
	}`))
	require.NoError(t, err)

	for _, outcome := range def.Node("A").Outcomes {
		assert.Zero(t, outcome.Weight)
	}
}

func TestParseDefinition_CheckNodeFailBranchFromConfig(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [{"id": "SORRY", "text": "not subscribed"}],
		"actionNodes": [
			{"id": "A", "type": "check_subscription",
			 "config": {"channel": "@news", "failTargetId": "SORRY"},
			 "next": {"targetId": "B", "targetType": "action"}},
			{"id": "B", "type": "show_text", "config": {"text": "welcome"}}
		]
	}`))
	require.NoError(t, err)

	node := def.Node("A")
	fail := node.Branch(BranchFail)
	require.NotNil(t, fail)
	assert.Equal(t, "SORRY", fail.TargetID)
	assert.Equal(t, TargetMenu, fail.Kind)
	require.NotNil(t, node.Next)
	assert.Equal(t, "B", node.Next.TargetID)
}

func TestParseDefinition_DanglingReferencesWarn(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [
			{"id": "M1", "text": "home", "buttons": [
				{"id": "b1", "text": "Go", "targetMenuId": "GONE"}
			]}
		],
		"actionNodes": [
			{"id": "A", "type": "show_text", "config": {"text": "hi"},
			 "next": {"targetId": "NOWHERE", "targetType": "action"}}
		]
	}`))
	require.NoError(t, err)

	assert.Len(t, def.Warnings, 2)
}

func TestParseDefinition_UnknownRootMenuWarns(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"rootMenuId": "GONE",
		"menus": [{"id": "M1", "text": "home"}],
		"actionNodes": []
	}`))
	require.NoError(t, err)

	assert.NotEmpty(t, def.Warnings)
}

func TestRootMenu(t *testing.T) {
	t.Run("explicit root", func(t *testing.T) {
		def, err := ParseDefinition([]byte(`{
			"id": "f1",
			"rootMenuId": "M2",
			"menus": [{"id": "M1", "text": "a"}, {"id": "M2", "text": "b"}],
			"actionNodes": []
		}`))
		require.NoError(t, err)
		assert.Equal(t, "M2", def.RootMenu().ID)
	})

	t.Run("fallback is lexicographic", func(t *testing.T) {
		def, err := ParseDefinition([]byte(`{
			"id": "f1",
			"menus": [{"id": "zulu", "text": "z"}, {"id": "alpha", "text": "a"}],
			"actionNodes": []
		}`))
		require.NoError(t, err)
		assert.Equal(t, "alpha", def.RootMenu().ID)
	})

	t.Run("no menus", func(t *testing.T) {
		def, err := ParseDefinition([]byte(`{"id": "f1", "menus": [], "actionNodes": []}`))
		require.NoError(t, err)
		assert.Nil(t, def.RootMenu())
	})
}

func TestButtonRows(t *testing.T) {
	menu := &Menu{
		ID: "M1",
		Buttons: []Button{
			{ID: "b3", Row: 1, Order: 0},
			{ID: "b2", Row: 0, Order: 1},
			{ID: "b1", Row: 0, Order: 0},
		},
	}

	rows := menu.ButtonRows()
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 2)
	assert.Equal(t, "b1", rows[0][0].ID)
	assert.Equal(t, "b2", rows[0][1].ID)
	assert.Equal(t, "b3", rows[1][0].ID)
}

func TestInlineActionsSortedByOrder(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "f1",
		"menus": [
			{"id": "M1", "text": "home", "buttons": [
				{"id": "b1", "text": "Go", "targetMenuId": "M1", "actions": [
					{"id": "second", "order": 2, "type": "add_tag", "config": {"tag": "b"}},
					{"id": "first", "order": 1, "type": "add_tag", "config": {"tag": "a"}}
				]}
			]}
		],
		"actionNodes": []
	}`))
	require.NoError(t, err)

	actions := def.Menu("M1").Button("b1").Actions
	require.Len(t, actions, 2)
	assert.Equal(t, "first", actions[0].ID)
	assert.Equal(t, "second", actions[1].ID)
}
