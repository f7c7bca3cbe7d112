package cache

import (
	"fmt"

	"gorm.io/gorm"

	"wikidot-notifier/pkg/notify"
)

// configToRow converts a domain config to its row form, leaving the
// watermark columns for the store to manage.
func configToRow(u *notify.UserConfig) *userConfigRow {
	return &userConfigRow{
		UserID:    u.UserID,
		Username:  u.Username,
		Frequency: string(u.Frequency),
		Language:  u.Language,
		Delivery:  u.Delivery,
		Tags:      u.Tags,
	}
}

// StoreUserConfigs upserts the fetched user configs in one transaction.
//
// With overwriteExisting set, users present in the store but absent from
// the incoming list are deleted along with their manual subs. For every
// retained user the existing manual subs are wiped and re-inserted from
// the incoming record. Watermarks survive the upsert: an existing user's
// last_notified_timestamp is untouched, and a first-seen user gets a base
// watermark of the store's current clock so old posts are not replayed.
func (s *Store) StoreUserConfigs(users []*notify.UserConfig, overwriteExisting bool) error {
	base := s.now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if overwriteExisting {
			ids := make([]int64, 0, len(users))
			for _, u := range users {
				ids = append(ids, u.UserID)
			}
			var err error
			if len(ids) > 0 {
				err = tx.Exec(`DELETE FROM manual_subs WHERE user_id NOT IN ?`, ids).Error
				if err == nil {
					err = tx.Exec(`DELETE FROM user_configs WHERE user_id NOT IN ?`, ids).Error
				}
			} else {
				err = tx.Exec(`DELETE FROM manual_subs`).Error
				if err == nil {
					err = tx.Exec(`DELETE FROM user_configs`).Error
				}
			}
			if err != nil {
				return fmt.Errorf("delete stale user configs: %w", err)
			}
		}

		for _, u := range users {
			var existing int64
			if err := tx.Table("user_configs").Where("user_id = ?", u.UserID).
				Count(&existing).Error; err != nil {
				return fmt.Errorf("probe user %d: %w", u.UserID, err)
			}
			if existing > 0 {
				err := tx.Table("user_configs").Where("user_id = ?", u.UserID).
					Updates(map[string]any{
						"username":  u.Username,
						"frequency": string(u.Frequency),
						"language":  u.Language,
						"delivery":  u.Delivery,
						"tags":      u.Tags,
					}).Error
				if err != nil {
					return fmt.Errorf("update user %d: %w", u.UserID, err)
				}
			} else {
				row := configToRow(u)
				row.BaseNotifiedTimestamp = base
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("insert user %d: %w", u.UserID, err)
				}
			}

			if err := tx.Where("user_id = ?", u.UserID).
				Delete(&manualSubRow{}).Error; err != nil {
				return fmt.Errorf("wipe manual subs of user %d: %w", u.UserID, err)
			}
			for _, sub := range u.ManualSubs {
				row := manualSubRow{
					UserID:   u.UserID,
					ThreadID: sub.ThreadID,
					PostID:   sub.PostID,
					Sub:      sub.Sub,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("insert manual sub of user %d: %w", u.UserID, err)
				}
			}
		}
		return nil
	})
}

// UserConfigs returns every user on the given frequency, with manual subs
// attached and the effective watermark resolved: the stored
// last_notified_timestamp when present, the base watermark otherwise.
func (s *Store) UserConfigs(frequency notify.Frequency) ([]*notify.UserConfig, error) {
	var rows []userConfigRow
	if err := s.db.Where("frequency = ?", string(frequency)).
		Order("user_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user configs: %w", err)
	}

	users := make([]*notify.UserConfig, 0, len(rows))
	byID := make(map[int64]*notify.UserConfig, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		u := &notify.UserConfig{
			UserID:                r.UserID,
			Username:              r.Username,
			Frequency:             notify.Frequency(r.Frequency),
			Language:              r.Language,
			Delivery:              r.Delivery,
			Tags:                  r.Tags,
			BaseNotifiedTimestamp: r.BaseNotifiedTimestamp,
		}
		if r.LastNotifiedTimestamp != nil {
			u.LastNotifiedTimestamp = *r.LastNotifiedTimestamp
		} else {
			u.LastNotifiedTimestamp = r.BaseNotifiedTimestamp
		}
		users = append(users, u)
		byID[u.UserID] = u
		ids = append(ids, u.UserID)
	}
	if len(ids) == 0 {
		return users, nil
	}

	var subs []manualSubRow
	if err := s.db.Where("user_id IN ?", ids).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list manual subs: %w", err)
	}
	for _, r := range subs {
		u := byID[r.UserID]
		if u == nil {
			continue
		}
		u.ManualSubs = append(u.ManualSubs, notify.Subscription{
			ThreadID: r.ThreadID,
			PostID:   r.PostID,
			Sub:      r.Sub,
		})
	}

	if err := s.annotateAutoSubs(byID, ids); err != nil {
		return nil, err
	}
	return users, nil
}

// annotateAutoSubs attaches the authorship-derived subscriptions: a
// thread-level record for threads the user opened, a post-level record
// for posts they authored.
func (s *Store) annotateAutoSubs(byID map[int64]*notify.UserConfig, ids []int64) error {
	var threads []struct {
		ID     int64
		UserID int64
	}
	err := s.db.Raw(`
		SELECT t.id AS id, fp.user_id AS user_id
		FROM threads t
		JOIN posts fp ON fp.id = t.first_post_id
		WHERE fp.user_id IN ? AND t.is_deleted = 0`, ids).Scan(&threads).Error
	if err != nil {
		return fmt.Errorf("list auto thread subs: %w", err)
	}
	for _, t := range threads {
		if u := byID[t.UserID]; u != nil {
			u.AutoSubs = append(u.AutoSubs, notify.Subscription{ThreadID: t.ID, Sub: 1})
		}
	}

	var posts []struct {
		ID       int64
		ThreadID int64
		UserID   int64
	}
	err = s.db.Raw(`
		SELECT id, thread_id, user_id
		FROM posts
		WHERE user_id IN ? AND is_deleted = 0`, ids).Scan(&posts).Error
	if err != nil {
		return fmt.Errorf("list auto post subs: %w", err)
	}
	for _, p := range posts {
		u := byID[p.UserID]
		if u == nil {
			continue
		}
		id := p.ID
		u.AutoSubs = append(u.AutoSubs, notify.Subscription{ThreadID: p.ThreadID, PostID: &id, Sub: 1})
	}
	return nil
}

// StoreUserLastNotified commits a user's watermark. Called only after a
// successful delivery; the watermark never moves backwards.
func (s *Store) StoreUserLastNotified(userID, ts int64) error {
	err := s.db.Exec(`
		UPDATE user_configs
		SET last_notified_timestamp = ?
		WHERE user_id = ?
		AND (last_notified_timestamp IS NULL OR last_notified_timestamp < ?)`,
		ts, userID, ts).Error
	if err != nil {
		return fmt.Errorf("store watermark of user %d: %w", userID, err)
	}
	return nil
}
