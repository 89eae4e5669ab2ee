package command

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// hashTree returns a deterministic digest of a command tree. Runtime fields
// assigned by Discord (IDs, versions) are left out so a tree read back from
// the API hashes the same as the one that was sent.
func hashTree(cmds []*discordgo.ApplicationCommand) string {
	normalized := make([]map[string]any, len(cmds))
	for i, c := range cmds {
		normalized[i] = normalizeCommand(c)
	}
	sort.SliceStable(normalized, func(i, j int) bool {
		a, b := normalized[i], normalized[j]
		if a["type"] != b["type"] {
			return a["type"].(discordgo.ApplicationCommandType) < b["type"].(discordgo.ApplicationCommandType)
		}
		return a["name"].(string) < b["name"].(string)
	})
	data, _ := json.Marshal(normalized)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeCommand(c *discordgo.ApplicationCommand) map[string]any {
	obj := map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"type":        c.Type,
	}
	if c.NameLocalizations != nil {
		obj["name_localizations"] = *c.NameLocalizations
	}
	if c.DescriptionLocalizations != nil {
		obj["description_localizations"] = *c.DescriptionLocalizations
	}
	if c.DefaultMemberPermissions != nil {
		obj["default_member_permissions"] = *c.DefaultMemberPermissions
	}
	if len(c.Options) > 0 {
		obj["options"] = normalizeOptions(c.Options)
	}
	return obj
}

// Option order is significant for required options, so it is kept.
func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	normalized := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":         o.Name,
			"description":  o.Description,
			"type":         o.Type,
			"required":     o.Required,
			"autocomplete": o.Autocomplete,
		}
		if len(o.NameLocalizations) > 0 {
			entry["name_localizations"] = o.NameLocalizations
		}
		if len(o.DescriptionLocalizations) > 0 {
			entry["description_localizations"] = o.DescriptionLocalizations
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, ch := range o.Choices {
				choices[j] = map[string]any{
					"name":               ch.Name,
					"value":              ch.Value,
					"name_localizations": ch.NameLocalizations,
				}
			}
			entry["choices"] = choices
		}
		if o.MinValue != nil {
			entry["min_value"] = *o.MinValue
		}
		if o.MaxValue != 0 {
			entry["max_value"] = o.MaxValue
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		normalized[i] = entry
	}
	return normalized
}
