// Package reminder registers one weekly trigger per session slot, firing
// Lead before each occurrence, and delivers reminders to both participants
// through the notifier.
//
// Triggers are named "reminder:<sessionID>:<slotIndex>". Registration for a
// session always clears its existing triggers first, so scheduling at
// creation, after an edit and at boot share one code path.
package reminder
