// Package menu defines the custom-menu schema and loads menu definitions
// from YAML files for pushing through the menu API.
package menu

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Menu is the platform's custom-menu schema: up to three top-level buttons,
// each either an action or a folder of up to five sub-buttons.
type Menu struct {
	Buttons []Button `yaml:"buttons" json:"button"`
}

// Button is one menu entry. Type is empty for a folder carrying SubButtons;
// otherwise it is a platform action type ("click", "view", "scancode_push",
// ...) with the matching Key or URL set.
type Button struct {
	Type       string   `yaml:"type,omitempty" json:"type,omitempty"`
	Name       string   `yaml:"name" json:"name"`
	Key        string   `yaml:"key,omitempty" json:"key,omitempty"`
	URL        string   `yaml:"url,omitempty" json:"url,omitempty"`
	MediaID    string   `yaml:"mediaId,omitempty" json:"media_id,omitempty"`
	AppID      string   `yaml:"appId,omitempty" json:"appid,omitempty"`
	PagePath   string   `yaml:"pagePath,omitempty" json:"pagepath,omitempty"`
	SubButtons []Button `yaml:"subButtons,omitempty" json:"sub_button,omitempty"`
}

// Load reads a menu definition from a YAML file.
func Load(path string) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse menu file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("menu file %s: %w", path, err)
	}
	return &m, nil
}

// Validate enforces the platform's structural limits.
func (m *Menu) Validate() error {
	if len(m.Buttons) == 0 || len(m.Buttons) > 3 {
		return fmt.Errorf("menu must have 1-3 top-level buttons, has %d", len(m.Buttons))
	}
	for _, b := range m.Buttons {
		if err := b.validate(true); err != nil {
			return err
		}
	}
	return nil
}

func (b Button) validate(allowSub bool) error {
	if b.Name == "" {
		return fmt.Errorf("button without a name")
	}
	if len(b.SubButtons) > 0 {
		if !allowSub {
			return fmt.Errorf("button %q: sub-buttons cannot nest", b.Name)
		}
		if len(b.SubButtons) > 5 {
			return fmt.Errorf("button %q: at most 5 sub-buttons, has %d", b.Name, len(b.SubButtons))
		}
		for _, sub := range b.SubButtons {
			if err := sub.validate(false); err != nil {
				return err
			}
		}
		return nil
	}
	if b.Type == "" {
		return fmt.Errorf("button %q: needs a type or sub-buttons", b.Name)
	}
	switch b.Type {
	case "view":
		if b.URL == "" {
			return fmt.Errorf("button %q: view buttons need a url", b.Name)
		}
	case "miniprogram":
		if b.AppID == "" || b.PagePath == "" {
			return fmt.Errorf("button %q: miniprogram buttons need appId and pagePath", b.Name)
		}
	case "media_id", "view_limited":
		if b.MediaID == "" {
			return fmt.Errorf("button %q: %s buttons need a mediaId", b.Name, b.Type)
		}
	default:
		// click, scancode_push, scancode_waitmsg, pic_sysphoto, ... all
		// carry their payload in Key.
		if b.Key == "" {
			return fmt.Errorf("button %q: %s buttons need a key", b.Name, b.Type)
		}
	}
	return nil
}
