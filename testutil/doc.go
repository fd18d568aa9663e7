// Package testutil builds round configurations and input vectors for tests
// of the protocol and services packages.
//
//	cfg := testutil.NewTestRound(
//		testutil.WithHandle("dropout"),
//		testutil.WithClients(5),
//		testutil.WithThreshold(3),
//	)
//	inputs := testutil.RandomVectors(1, 5, 16, 0)
//	want := testutil.SumVectors(inputs[:3]...)
package testutil
