package ui

import (
	"testing"

	"github.com/pmoss/stunnel-pool/internal/model"
)

func TestParseQuickTarget(t *testing.T) {
	got, err := parseQuickTarget("db.internal:443")
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "db.internal" || got.Port != 443 || got.Alias != "db.internal:443" {
		t.Fatalf("unexpected target: %+v", got)
	}
	if got.Verify != model.VerifyDefault {
		t.Fatalf("quick target must use default verification: %+v", got)
	}
}

func TestParseQuickTarget_Invalid(t *testing.T) {
	for _, bad := range []string{"", "   ", "no-port", ":443", "host:", "host:0", "host:70000", "host:http"} {
		if _, err := parseQuickTarget(bad); err == nil {
			t.Fatalf("input %q accepted", bad)
		}
	}
}

func TestBuildTargetEntry(t *testing.T) {
	f := newTargetForm()
	f.fields[fieldAlias].SetValue("db-primary")
	f.fields[fieldHost].SetValue("db.internal")
	f.fields[fieldPort].SetValue("443")
	f.fields[fieldVerify].SetValue("yes")
	f.diagnosis = true

	got, err := f.buildTargetEntry()
	if err != nil {
		t.Fatal(err)
	}
	want := model.TargetEntry{Alias: "db-primary", Host: "db.internal", Port: 443, Verify: model.VerifyAlways, Diagnosis: true}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestBuildTargetEntry_Validation(t *testing.T) {
	set := func(alias, host, port, verify string) *targetForm {
		f := newTargetForm()
		f.fields[fieldAlias].SetValue(alias)
		f.fields[fieldHost].SetValue(host)
		f.fields[fieldPort].SetValue(port)
		f.fields[fieldVerify].SetValue(verify)
		return f
	}
	cases := []*targetForm{
		set("", "db.internal", "443", ""),
		set("db", "", "443", ""),
		set("db", "db.internal", "", ""),
		set("db", "db.internal", "0", ""),
		set("db", "db.internal", "443", "maybe"),
	}
	for i, f := range cases {
		if _, err := f.buildTargetEntry(); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
}

func TestBuildTargetEntry_BlankVerify(t *testing.T) {
	f := newTargetForm()
	f.fields[fieldAlias].SetValue("db")
	f.fields[fieldHost].SetValue("db.internal")
	f.fields[fieldPort].SetValue("443")

	got, err := f.buildTargetEntry()
	if err != nil {
		t.Fatal(err)
	}
	if got.Verify != model.VerifyDefault {
		t.Fatalf("blank verify should defer to the sentinel: %+v", got)
	}
}
