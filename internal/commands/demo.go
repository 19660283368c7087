package commands

import (
	"fmt"

	"github.com/David-Botos/lexicon-migrate/pkg/analyzer"
	"github.com/David-Botos/lexicon-migrate/pkg/catalog"
	"github.com/David-Botos/lexicon-migrate/pkg/lexicon"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
	"github.com/David-Botos/lexicon-migrate/pkg/store"
	"github.com/David-Botos/lexicon-migrate/pkg/store/memory"
)

const orphanRuleID = "remove-orphaned-word-forms"

// seedDemo fills mem with a small lexicon that has work for every rule
// category, and installs the integrity procedures the structure analysis
// and the orphan rule call.
func seedDemo(mem *memory.Store, cat *catalog.Catalog) {
	words := []struct {
		id, italian string
		tags        []string
	}{
		{"d-1", "essere", []string{"verbo", "irregular-verb"}},
		{"d-2", "avere", []string{"verbo", "irregular-verb"}},
		{"d-3", "parlare", []string{"verbo", "presente_indicativo"}},
		{"d-4", "lavarsi", []string{"verbo", "reflexive-verb"}},
		{"d-5", "libri", []string{"sostantivo", "Plurale"}},
		{"d-6", "casa", []string{"sostantivo", "singolare"}},
	}
	for _, w := range words {
		mem.Insert(lexicon.TableDictionary, model.Record{"id": w.id, "italian": w.italian, "tags": w.tags})
	}

	forms := []struct {
		wordID, text string
		tags         []string
	}{
		{"d-1", "sono", []string{"io", "presente"}},
		{"d-1", "sei", []string{"tu", "presente"}},
		{"d-1", "è", []string{"lui", "presente"}},
		{"d-2", "ho", []string{"io", "presente"}},
		{"d-2", "abbiamo", []string{"noi", "presente"}},
		{"d-3", "parlo", []string{"prima-persona", "presente"}},
		{"d-3", "parlate", []string{"voi", "presente"}},
		{"d-3", "parlano", []string{"loro", "terza-persona-plurale", "presente"}},
		{"d-4", "mi lavo", []string{"io", "riflessivo"}},
		{"d-9", "andavo", []string{"io", "imperfetto"}},
		{"d-9", "andavi", []string{"tu", "imperfetto"}},
	}
	for i, f := range forms {
		mem.Insert(lexicon.TableWordForms, model.Record{
			"id":        fmt.Sprintf("wf-%02d", i+1),
			"word_id":   f.wordID,
			"form_text": f.text,
			"tags":      f.tags,
		})
	}

	translations := []struct {
		wordID, text string
		meta         map[string]any
	}{
		{"d-1", "to be", map[string]any{"auxiliary": "essere", "transitivity": "intransitive"}},
		{"d-2", "to have", map[string]any{"transitivity": "transitive"}},
		{"d-3", "to speak", map[string]any{"transitivity": "intransitive"}},
		{"d-3", "to talk", map[string]any{}},
		{"d-4", "to wash oneself", nil},
		{"d-5", "books", map[string]any{"auxiliary": nil}},
		{"d-8", "to go", map[string]any{"transitivity": "intransitive"}},
	}
	for i, t := range translations {
		row := model.Record{
			"id":          fmt.Sprintf("wt-%02d", i+1),
			"word_id":     t.wordID,
			"translation": t.text,
		}
		if t.meta != nil {
			row["context_metadata"] = t.meta
		}
		mem.Insert(lexicon.TableWordTranslations, row)
	}

	mem.Insert(lexicon.TableFormTranslations,
		model.Record{"id": "ft-01", "form_id": "wf-01", "translation_id": "wt-01", "tags": []string{"io"}},
		model.Record{"id": "ft-02", "form_id": "wf-05", "translation_id": "wt-02", "tags": []string{"noi"}},
	)

	mem.RegisterProcedure(analyzer.ProcOrphanedRecords, func(s *memory.Store) ([]model.Record, error) {
		return unreferenced(s, lexicon.TableWordForms), nil
	})
	mem.RegisterProcedure(analyzer.ProcMissingRelationships, func(s *memory.Store) ([]model.Record, error) {
		return unreferenced(s, lexicon.TableWordTranslations), nil
	})

	if rule, err := cat.Get(orphanRuleID); err == nil {
		mem.RegisterExec(rule.Transformation.CustomQuery(), func(s *memory.Store) (store.Result, error) {
			orphans := make(map[string]bool)
			for _, r := range unreferenced(s, lexicon.TableWordForms) {
				orphans[r.ID()] = true
			}
			var res store.Result
			s.Mutate(lexicon.TableWordForms, func(rows []model.Record) []model.Record {
				kept := rows[:0]
				for _, r := range rows {
					if orphans[r.ID()] {
						res.RowIDs = append(res.RowIDs, r.ID())
						continue
					}
					kept = append(kept, r)
				}
				return kept
			})
			res.RowsAffected = len(res.RowIDs)
			return res, nil
		})
	}
}

// unreferenced returns rows of table whose word_id names no dictionary entry
func unreferenced(s *memory.Store, table string) []model.Record {
	known := make(map[string]bool)
	for _, w := range s.Rows(lexicon.TableDictionary) {
		known[w.ID()] = true
	}
	out := []model.Record{}
	for _, r := range s.Rows(table) {
		if id, _ := r["word_id"].(string); !known[id] {
			out = append(out, r)
		}
	}
	return out
}
