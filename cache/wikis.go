package cache

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wikidot-notifier/pkg/notify"
)

// configWikiName labels the configuration wiki in digests when the
// fetched wiki list does not name it itself.
const configWikiName = "Configuration wiki"

// StoreSupportedWikis atomically replaces the supported-wiki set. The
// platform-global "www" wiki and the configuration wiki are re-added if
// the incoming list omits them.
func (s *Store) StoreSupportedWikis(wikis []notify.Wiki) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM wikis`).Error; err != nil {
			return fmt.Errorf("clear wikis: %w", err)
		}
		seen := make(map[string]bool, len(wikis))
		rows := make([]wikiRow, 0, len(wikis)+2)
		for _, w := range wikis {
			if seen[w.ID] {
				continue
			}
			seen[w.ID] = true
			rows = append(rows, wikiRow{ID: w.ID, Name: w.Name, Secure: w.Secure})
		}
		if !seen["www"] {
			rows = append(rows, wikiRow{ID: "www", Name: "Wikidot", Secure: true})
		}
		if s.opts.ConfigWiki != "" && !seen[s.opts.ConfigWiki] {
			rows = append(rows, wikiRow{ID: s.opts.ConfigWiki, Name: configWikiName, Secure: true})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert wikis: %w", err)
		}
		return nil
	})
}

// SupportedWikis returns every stored wiki.
func (s *Store) SupportedWikis() ([]notify.Wiki, error) {
	var rows []wikiRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list wikis: %w", err)
	}
	wikis := make([]notify.Wiki, 0, len(rows))
	for _, r := range rows {
		wikis = append(wikis, notify.Wiki{ID: r.ID, Name: r.Name, Secure: r.Secure})
	}
	return wikis, nil
}

// StoreGlobalOverrides atomically replaces all override records.
func (s *Store) StoreGlobalOverrides(overrides notify.Overrides) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM global_overrides`).Error; err != nil {
			return fmt.Errorf("clear overrides: %w", err)
		}
		for wikiID, list := range overrides {
			for _, o := range list {
				row := overrideRow{
					WikiID:             wikiID,
					Action:             o.Action,
					CategoryIDIs:       o.CategoryIDIs,
					ThreadIDIs:         o.ThreadIDIs,
					ThreadTitleMatches: o.ThreadTitleMatches,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("insert override: %w", err)
				}
			}
		}
		return nil
	})
}

// GlobalOverrides returns the stored override map.
func (s *Store) GlobalOverrides() (notify.Overrides, error) {
	var rows []overrideRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	overrides := make(notify.Overrides)
	for _, r := range rows {
		overrides[r.WikiID] = append(overrides[r.WikiID], notify.Override{
			Action:             r.Action,
			CategoryIDIs:       r.CategoryIDIs,
			ThreadIDIs:         r.ThreadIDIs,
			ThreadTitleMatches: r.ThreadTitleMatches,
		})
	}
	return overrides, nil
}

// StoreCategory upserts a forum category.
func (s *Store) StoreCategory(c *notify.Category) error {
	row := categoryRow{ID: c.ID, Name: c.Name}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store category: %w", err)
	}
	return nil
}
