package model

// TestCase is one hidden case used for judging a submission.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
}

// VisibleTestCase is a sample case shown to the user and used by run.
type VisibleTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
	Explanation    string `json:"explanation,omitempty"`
}

// AsTestCase drops the explanation so visible cases can go through the same executor path.
func (v VisibleTestCase) AsTestCase() TestCase {
	return TestCase{Input: v.Input, ExpectedOutput: v.ExpectedOutput}
}
