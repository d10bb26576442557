package store

import "testing"

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSetting("log.level", "debug"); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}
	val, err := s.GetSetting("log.level")
	if err != nil {
		t.Fatalf("GetSetting returned error: %v", err)
	}
	if val != "debug" {
		t.Fatalf("expected debug, got %q", val)
	}

	// Upsert
	if err := s.SetSetting("log.level", "trace"); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}
	if val, _ = s.GetSetting("log.level"); val != "trace" {
		t.Fatalf("expected trace after upsert, got %q", val)
	}

	if err := s.DeleteSetting("log.level"); err != nil {
		t.Fatalf("DeleteSetting returned error: %v", err)
	}
	if val, _ = s.GetSetting("log.level"); val != "" {
		t.Fatalf("expected empty value after delete, got %q", val)
	}
}

func TestSettingsJSON(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSettingJSON("events.heartbeat_seconds", 45); err != nil {
		t.Fatalf("SetSettingJSON returned error: %v", err)
	}

	var seconds int
	if err := s.GetSettingJSON("events.heartbeat_seconds", &seconds); err != nil {
		t.Fatalf("GetSettingJSON returned error: %v", err)
	}
	if seconds != 45 {
		t.Fatalf("expected 45, got %d", seconds)
	}

	// Missing key leaves the target untouched.
	other := 7
	if err := s.GetSettingJSON("missing", &other); err != nil {
		t.Fatalf("GetSettingJSON returned error: %v", err)
	}
	if other != 7 {
		t.Fatalf("expected untouched value, got %d", other)
	}
}

func TestInitializeDefaults(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSettingJSON("log.level", "debug"); err != nil {
		t.Fatalf("SetSettingJSON returned error: %v", err)
	}
	if err := s.InitializeDefaults(); err != nil {
		t.Fatalf("InitializeDefaults returned error: %v", err)
	}

	all, err := s.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings returned error: %v", err)
	}
	if len(all) != len(DefaultSettings) {
		t.Fatalf("expected %d settings, got %d", len(DefaultSettings), len(all))
	}
	// Existing values survive.
	if all["log.level"] != `"debug"` {
		t.Fatalf("expected existing setting to survive, got %q", all["log.level"])
	}
	if all["maintenance.optimize_schedule"] != `"@hourly"` {
		t.Fatalf("unexpected default schedule: %q", all["maintenance.optimize_schedule"])
	}
}
