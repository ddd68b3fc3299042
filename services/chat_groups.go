package services

import (
	"time"

	"github.com/zhangyw0810/llamatalk/internal/models"
)

// Bucket labels for the grouped sidebar listing, oldest-last.
const (
	BucketToday          = "Today"
	BucketYesterday      = "Yesterday"
	BucketPrevious7Days  = "Previous 7 Days"
	BucketPrevious30Days = "Previous 30 Days"
	BucketEarlier        = "Earlier"
)

// GroupOrder is the display order of buckets. The named last-month bucket,
// when present, slots between Previous 30 Days and Earlier.
var GroupOrder = []string{BucketToday, BucketYesterday, BucketPrevious7Days, BucketPrevious30Days, BucketEarlier}

// GroupChats buckets chats by creation time relative to now. Boundaries:
// anything since local midnight is Today; since the prior midnight,
// Yesterday; then 7-day and 30-day windows counted back from today's
// midnight, so a chat exactly 8 days old lands in Previous 30 Days. Chats
// from the previous calendar month outside the 30-day window get a bucket
// named after that month; everything older is Earlier.
func GroupChats(now time.Time, chats []models.Chat) map[string][]models.Chat {
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterdayStart := todayStart.AddDate(0, 0, -1)
	sevenDaysAgo := todayStart.AddDate(0, 0, -7)
	thirtyDaysAgo := todayStart.AddDate(0, 0, -30)
	lastMonthStart := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location())
	lastMonthEnd := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	groups := make(map[string][]models.Chat)
	for _, chat := range chats {
		ts := chat.CreatedAt.In(now.Location())

		var bucket string
		switch {
		case !ts.Before(todayStart):
			bucket = BucketToday
		case !ts.Before(yesterdayStart):
			bucket = BucketYesterday
		case !ts.Before(sevenDaysAgo):
			bucket = BucketPrevious7Days
		case !ts.Before(thirtyDaysAgo):
			bucket = BucketPrevious30Days
		case !ts.Before(lastMonthStart) && ts.Before(lastMonthEnd):
			bucket = "Last Month (" + lastMonthStart.Month().String() + ")"
		default:
			bucket = BucketEarlier
		}

		groups[bucket] = append(groups[bucket], chat)
	}

	return groups
}

// GroupLabels returns the labels present in groups in display order. The
// named last-month bucket slots in before Earlier.
func GroupLabels(groups map[string][]models.Chat) []string {
	fixed := make(map[string]bool, len(GroupOrder))
	for _, label := range GroupOrder {
		fixed[label] = true
	}

	lastMonth := ""
	for label := range groups {
		if !fixed[label] {
			lastMonth = label
		}
	}

	labels := make([]string, 0, len(groups))
	for _, label := range GroupOrder {
		if label == BucketEarlier && lastMonth != "" {
			labels = append(labels, lastMonth)
		}
		if _, ok := groups[label]; ok {
			labels = append(labels, label)
		}
	}
	return labels
}
