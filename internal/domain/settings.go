package domain

// Lang is a configured source or target language: a code plus a display name,
// as stored in the source_languages/target_languages JSON arrays.
type Lang struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Setting is a single key/value row in the key→string settings table.
// language_settings_version lives here under its own key and is bumped by
// store.Store.ReconcileLanguageSettings when it finds the source or target
// language lists changed since its last call.
type Setting struct {
	Key   string
	Value string
}

const SettingLanguageVersion = "language_settings_version"

// SettingKnownSourceLanguages/SettingKnownTargetLanguages cache the
// comma-joined language codes configured as of the last reconciliation, so
// the next one can detect a change and bump SettingLanguageVersion.
const (
	SettingKnownSourceLanguages = "known_source_languages"
	SettingKnownTargetLanguages = "known_target_languages"
)
