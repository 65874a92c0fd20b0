package store

import (
	"errors"
	"testing"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		name      string
		field     string
		value     string
		wantField Field
		wantValue any
		wantErr   error
	}{
		{
			name:      "purchased true",
			field:     "purchased",
			value:     "true",
			wantField: FieldPurchased,
			wantValue: 1,
		},
		{
			name:      "hasEspresso numeric",
			field:     "hasEspresso",
			value:     "0",
			wantField: FieldHasEspresso,
			wantValue: 0,
		},
		{
			name:      "starred",
			field:     "starred",
			value:     "T",
			wantField: FieldStarred,
			wantValue: 1,
		},
		{
			name:      "comment stored as-is",
			field:     "comment",
			value:     "  great  ",
			wantField: FieldComment,
			wantValue: "  great  ",
		},
		{
			name:      "region",
			field:     "region",
			value:     "Midtjylland",
			wantField: FieldRegion,
			wantValue: "Midtjylland",
		},
		{
			name:    "unknown field",
			field:   "bogusField",
			value:   "x",
			wantErr: ErrUnknownField,
		},
		{
			name:    "rating is not editable",
			field:   "qualityRating",
			value:   "3",
			wantErr: ErrUnknownField,
		},
		{
			name:    "column name is not a field name",
			field:   "has_espresso",
			value:   "true",
			wantErr: ErrUnknownField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseUpdate(tt.field, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got err %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Field() != tt.wantField {
				t.Errorf("got field %v, want %v", u.Field(), tt.wantField)
			}
			if u.Value() != tt.wantValue {
				t.Errorf("got value %v, want %v", u.Value(), tt.wantValue)
			}
		})
	}
}

func TestParseUpdateInvalidBool(t *testing.T) {
	_, err := ParseUpdate("purchased", "maybe")
	if err == nil {
		t.Fatal("expected error for invalid boolean")
	}
	if errors.Is(err, ErrUnknownField) {
		t.Errorf("invalid value should not be reported as unknown field: %v", err)
	}
}

func TestZeroUpdateInvalid(t *testing.T) {
	var u Update
	if u.Valid() {
		t.Error("zero Update should be invalid")
	}
	if u.Field().Column() != "" {
		t.Errorf("zero field column = %q, want empty", u.Field().Column())
	}
}

func TestUpdateApply(t *testing.T) {
	r := DefaultRecord("Amokka")
	r = SetStarred(true).Apply(r)
	r = SetComment("nice").Apply(r)
	r = SetStarred(false).Apply(r)

	want := Record{Name: "Amokka", Comment: "nice"}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
}

func TestFieldRoundTrip(t *testing.T) {
	for _, f := range Fields() {
		got, err := ParseField(f.String())
		if err != nil {
			t.Fatalf("ParseField(%q): %v", f, err)
		}
		if got != f {
			t.Errorf("ParseField(%q) = %v", f, got)
		}
		if f.Column() == "" {
			t.Errorf("field %v has no column", f)
		}
	}
}

func TestMigrationError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&MigrationError{Step: "add column region", Err: cause})

	if !errors.Is(err, ErrMigrationStepFailed) {
		t.Error("expected ErrMigrationStepFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}

func TestStoreStateString(t *testing.T) {
	if StateReady.String() != "ready" || StateMissing.String() != "missing" || StateOutdated.String() != "outdated" {
		t.Error("unexpected state names")
	}
}
