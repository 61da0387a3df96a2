package fingerprint

import (
	"testing"

	"error-tracker/internal/models"
)

func frame(namespace, typeName, name string, line int) models.StackFrame {
	return models.StackFrame{
		Method: models.Method{
			Namespace: namespace,
			TypeName:  typeName,
			Name:      name,
		},
		FileName:   "app.cs",
		LineNumber: line,
	}
}

func TestHashIgnoresLineNumbers(t *testing.T) {
	first := &models.Error{
		Type:       "NullReferenceException",
		StackTrace: []models.StackFrame{frame("Acme.Api", "Orders", "Submit", 42)},
	}
	second := &models.Error{
		Type:       "NullReferenceException",
		StackTrace: []models.StackFrame{frame("Acme.Api", "Orders", "Submit", 117)},
	}

	a := Compute(first, Settings{}).Hash()
	b := Compute(second, Settings{}).Hash()
	if a == "" {
		t.Fatal("expected a non-empty hash")
	}
	if a != b {
		t.Fatalf("same defect at different lines must group: %s != %s", a, b)
	}
}

func TestInnermostUserFrameWins(t *testing.T) {
	chain := &models.Error{
		Type:       "TargetInvocationException",
		StackTrace: []models.StackFrame{frame("Acme.Web", "Middleware", "Invoke", 10)},
		Inner: &models.Error{
			Type:       "NullReferenceException",
			StackTrace: []models.StackFrame{frame("Acme.Api", "Orders", "Submit", 42)},
		},
	}

	sig := Compute(chain, Settings{})
	if sig.ExceptionType != "NullReferenceException" {
		t.Fatalf("expected innermost error type, got %q", sig.ExceptionType)
	}
	if sig.Method != "Acme.Api.Orders.Submit()" {
		t.Fatalf("expected innermost user frame, got %q", sig.Method)
	}
}

func TestVendorFramesSkippedByDefault(t *testing.T) {
	err := &models.Error{
		Type: "IOException",
		StackTrace: []models.StackFrame{
			frame("System.IO", "FileStream", "Read", 1),
			frame("Microsoft.Extensions.Logging", "Logger", "Log", 2),
			frame("Acme.Worker", "Exporter", "Flush", 3),
		},
	}

	sig := Compute(err, Settings{})
	if sig.Method != "Acme.Worker.Exporter.Flush()" {
		t.Fatalf("expected first non-vendor frame, got %q", sig.Method)
	}
}

func TestUserNamespaceAllowList(t *testing.T) {
	err := &models.Error{
		Type: "TimeoutException",
		StackTrace: []models.StackFrame{
			frame("Contoso.Client", "Api", "Call", 1),
			frame("Acme.Api", "Orders", "Submit", 2),
		},
	}

	sig := Compute(err, Settings{UserNamespaces: []string{"Acme"}})
	if sig.Method != "Acme.Api.Orders.Submit()" {
		t.Fatalf("allow list should restrict user frames, got %q", sig.Method)
	}
}

func TestCommonMethodsExcluded(t *testing.T) {
	err := &models.Error{
		Type: "InvalidOperationException",
		StackTrace: []models.StackFrame{
			frame("Acme.Api", "Orders", "Submit", 1),
			frame("Acme.Api", "Orders", "Validate", 2),
		},
	}

	sig := Compute(err, Settings{CommonMethods: []string{"Acme.Api.Orders.Submit()"}})
	if sig.Method != "Acme.Api.Orders.Validate()" {
		t.Fatalf("common method should be rejected, got %q", sig.Method)
	}
}

func TestAnonymousNamespaceCountsAsUserCode(t *testing.T) {
	err := &models.Error{
		Type:       "Error",
		StackTrace: []models.StackFrame{frame("", "", "main", 1)},
	}

	sig := Compute(err, Settings{})
	if sig.Method != "main()" {
		t.Fatalf("frames without a namespace are user code, got %q", sig.Method)
	}
}

func TestTargetMethodFallback(t *testing.T) {
	err := &models.Error{
		Type: "MissingMethodException",
		TargetMethod: &models.Method{
			Namespace:  "Acme.Api",
			TypeName:   "Orders",
			Name:       "Submit",
			Parameters: []string{"Order", "CancellationToken"},
		},
	}

	sig := Compute(err, Settings{})
	if sig.Method != "Acme.Api.Orders.Submit(Order, CancellationToken)" {
		t.Fatalf("expected target method fallback, got %q", sig.Method)
	}
}

func TestCodeDistinguishesSignatures(t *testing.T) {
	base := models.Error{
		Type:       "SqlException",
		StackTrace: []models.StackFrame{frame("Acme.Data", "Repo", "Query", 1)},
	}
	withCode := base
	withCode.Code = "1205"

	a := Compute(&base, Settings{}).Hash()
	b := Compute(&withCode, Settings{}).Hash()
	if a == b {
		t.Fatal("error code must contribute to the signature")
	}
}

func TestNoSignalNeverGroups(t *testing.T) {
	a := Compute(nil, Settings{})
	b := Compute(nil, Settings{})
	if a.UniqueID == "" || b.UniqueID == "" {
		t.Fatal("expected a unique id when the chain is missing")
	}
	if a.Hash() == b.Hash() {
		t.Fatal("signal-free occurrences must never share a hash")
	}

	empty := Compute(&models.Error{}, Settings{})
	if empty.UniqueID == "" {
		t.Fatal("expected a unique id when the chain carries no usable fields")
	}
}
