// Package activity keeps the bounded "recent activity" views.
//
// A Monitor holds one ring buffer each for monitored messages, contact
// changes and alerts. Buffers insert at the tail and evict the oldest entry
// once full; nothing is persisted and Clear empties them on logout.
//
// Queries are plain filters over the current contents:
//
//	mon := activity.NewMonitor(100)
//	detach := mon.Attach(manager.Dispatcher())
//	defer detach()
//
//	recent := mon.LatestMessages(20)
//	risky := mon.HighRiskContacts()
package activity
