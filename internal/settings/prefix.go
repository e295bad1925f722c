package settings

import (
	"context"
	"fmt"
	"slices"
)

// Prefixes returns the command prefixes of a guild, falling back to the defaults.
func (s *Service) Prefixes(ctx context.Context, guildID string) ([]string, error) {
	if p, ok := s.prefixes.Get(guildID); ok {
		return p, nil
	}
	custom, err := s.store.GetPrefixes(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("get prefixes: %w", err)
	}
	p := custom
	if len(p) == 0 {
		p = slices.Clone(s.defaults)
	}
	s.prefixes.Add(guildID, p)
	return p, nil
}

// DefaultPrefixes returns the prefixes used by guilds without custom ones.
func (s *Service) DefaultPrefixes() []string {
	return slices.Clone(s.defaults)
}

// SetPrefix replaces every prefix of a guild with prefix.
func (s *Service) SetPrefix(ctx context.Context, guildID, prefix string) ([]string, error) {
	prefix, err := checkPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return s.storePrefixes(ctx, guildID, []string{prefix})
}

// AddPrefix adds a prefix next to the ones the guild already uses.
func (s *Service) AddPrefix(ctx context.Context, guildID, prefix string) ([]string, error) {
	prefix, err := checkPrefix(prefix)
	if err != nil {
		return nil, err
	}
	current, err := s.Prefixes(ctx, guildID)
	if err != nil {
		return nil, err
	}

	switch {
	case slices.Contains(current, prefix):
		return nil, ErrAlreadyAdded
	case len(current) >= MaxPrefixes:
		return nil, ErrPrefixLimit
	case conflicts(prefix, current):
		return nil, ErrPrefixConflict
	}
	return s.storePrefixes(ctx, guildID, append(slices.Clone(current), prefix))
}

// RemovePrefix removes one custom prefix. Removing the last one restores the defaults.
func (s *Service) RemovePrefix(ctx context.Context, guildID, prefix string) ([]string, error) {
	prefix = normalizePrefix(prefix)
	custom, err := s.store.GetPrefixes(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("get prefixes: %w", err)
	}
	if len(custom) == 0 {
		return nil, ErrNoCustomPrefixes
	}
	i := slices.Index(custom, prefix)
	if i < 0 {
		return nil, ErrNotFound
	}
	return s.storePrefixes(ctx, guildID, slices.Delete(custom, i, i+1))
}

// ReplacePrefixes validates prefixes as a whole and stores them in place of the current ones.
func (s *Service) ReplacePrefixes(ctx context.Context, guildID string, prefixes []string) ([]string, error) {
	if len(prefixes) == 0 {
		return nil, ErrInvalidPrefix
	}
	if len(prefixes) > MaxPrefixes {
		return nil, ErrPrefixLimit
	}
	checked := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p, err := checkPrefix(p)
		if err != nil {
			return nil, err
		}
		if slices.Contains(checked, p) {
			return nil, ErrAlreadyAdded
		}
		if conflicts(p, checked) {
			return nil, ErrPrefixConflict
		}
		checked = append(checked, p)
	}
	return s.storePrefixes(ctx, guildID, checked)
}

// ResetPrefixes drops the custom prefixes of a guild.
func (s *Service) ResetPrefixes(ctx context.Context, guildID string) error {
	deleted, err := s.store.DeletePrefixes(ctx, guildID)
	if err != nil {
		return fmt.Errorf("delete prefixes: %w", err)
	}
	s.prefixes.Remove(guildID)
	if !deleted {
		return ErrNoCustomPrefixes
	}
	return nil
}

func (s *Service) storePrefixes(ctx context.Context, guildID string, prefixes []string) ([]string, error) {
	if err := s.store.SetPrefixes(ctx, guildID, prefixes); err != nil {
		return nil, fmt.Errorf("set prefixes: %w", err)
	}
	s.prefixes.Remove(guildID)
	if len(prefixes) == 0 {
		return s.DefaultPrefixes(), nil
	}
	return prefixes, nil
}
