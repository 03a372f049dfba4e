package model_test

import (
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

func TestNormalizeEntityName(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Alice", "alice"},
		{"  Alice Smith ", "alicesmith"},
		{"A.L.I.C.E!", "alice"},
		{"小明", "小明"},
		{"小明・同学", "小明同学"},
		{"", ""},
	}

	for _, tc := range cases {
		gt.Value(t, model.NormalizeEntityName(tc.input)).Equal(tc.want)
	}
}

func TestEntityMatchesName(t *testing.T) {
	entity := &model.Entity{
		Name:     "小明",
		NormName: model.NormalizeEntityName("小明"),
		Type:     "person",
		Aliases:  []string{"明明"},
	}

	gt.Bool(t, entity.MatchesName("小明")).True()
	gt.Bool(t, entity.MatchesName(" 小明 ")).True()
	gt.Bool(t, entity.MatchesName("明明")).True()
	gt.Bool(t, entity.MatchesName("小红")).False()
}
