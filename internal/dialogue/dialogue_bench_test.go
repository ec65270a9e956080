package dialogue

import "testing"

// BenchmarkDialoguesUpdate measures the cost of tracking and validating one
// message against a dialogue's history and Rules, grounded on the
// teacher's dhtpeer benchmarks_test.go bare testing.B style.
func BenchmarkDialoguesUpdate(b *testing.B) {
	rules := NewRules(
		[]string{"propose"},
		[]string{"accept", "decline"},
		map[string][]string{"propose": {"accept", "decline"}},
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		seller := NewDialogues("seller", rules)
		label := seller.Create("buyer")
		propose := fakeMessage{sender: "seller", to: "buyer", performative: "propose", id: StartingMessageID, target: StartingTarget, ref: label.Reference}
		if _, err := seller.Update(propose); err != nil {
			b.Fatal(err)
		}
	}
}
