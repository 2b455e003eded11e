// Package publish delivers metric readings to the destination state-store
// API as POST /api/states/<entity> calls with a bearer credential, sent
// over the routing transport so they take the tunneled egress. Publishes
// within a cycle are independent per metric and carry no internal retry;
// the scheduler's next iteration is the retry.
package publish
