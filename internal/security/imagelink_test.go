package security

import "testing"

func TestValidateImageLinkRejectsBadSchemes(t *testing.T) {
	for _, u := range []string{"ftp://host/x.png", "file:///etc/passwd", "not a url at all://"} {
		if err := ValidateImageLink(u); err == nil {
			t.Errorf("expected rejection for %q", u)
		}
	}
}

func TestValidateImageLinkRejectsInternalHosts(t *testing.T) {
	for _, u := range []string{
		"http://localhost/shot.png",
		"http://127.0.0.1/shot.png",
		"http://10.0.0.5/shot.png",
		"http://169.254.169.254/latest/meta-data",
		"http://metadata.google.internal/computeMetadata",
		"http://0.0.0.0/x",
	} {
		if err := ValidateImageLink(u); err == nil {
			t.Errorf("expected rejection for %q", u)
		}
	}
}

func TestValidateImageLinkRejectsMissingHost(t *testing.T) {
	if err := ValidateImageLink("https:///shot.png"); err == nil {
		t.Error("expected rejection for URL without host")
	}
}
